package domain

import "time"

// Status is a normalized completion status. Values outside the known set are
// kept verbatim so downstream consumers can see what the roster said.
type Status string

const (
	StatusCompleted  Status = "Completed"
	StatusInProgress Status = "In Progress"
	StatusNotStarted Status = "Not Started"
)

// Incomplete reports whether a record with this status still needs a reminder.
func (s Status) Incomplete() bool {
	return s != StatusCompleted
}

// Date is a calendar date that may be unknown (empty or unparseable input).
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a known date truncated to the day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

// String renders the date-only portion, or "" when unknown.
func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format("2006-01-02")
}

// Record is one roster row: one learner, one course, one status.
type Record struct {
	Learner      string
	FirstName    string
	LastName     string
	Email        string
	ManagerEmail string
	CourseTitle  string
	Status       Status
	RequiredDate Date
	Org          string
	BU           string
	Department   string
}

// Dataset is the validated result of one roster upload.
type Dataset struct {
	Records    []Record
	Warnings   []Warning
	Encoding   string
	UploadedAt time.Time
}

// Warning is a non-fatal issue found while reading a roster row.
type Warning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// TopOrg returns the most frequent Org value. On a tie the value that reached
// the top count first wins.
func (d *Dataset) TopOrg() (string, bool) {
	if d.Len() == 0 {
		return "", false
	}
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, r := range d.Records {
		if r.Org == "" {
			continue
		}
		counts[r.Org]++
		if n := counts[r.Org]; n > bestN {
			best, bestN = r.Org, n
		}
	}
	return best, bestN > 0
}
