package domain

import (
	"strings"
	"time"
)

// Outcome status values. Failures carry a reason: "failed:<reason>".
const (
	OutcomeDryRun    = "dry-run"
	OutcomeSimulated = "simulated"
	OutcomeSent      = "sent"
	outcomeFailed    = "failed:"
)

// FailedStatus builds the status string for a failed delivery.
func FailedStatus(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return outcomeFailed + reason
}

// CourseItem is one outstanding course in a reminder.
type CourseItem struct {
	Title        string
	RequiredDate Date
}

// RecipientGroup holds every incomplete record for one learner email.
type RecipientGroup struct {
	Email            string
	DisplayName      string
	ResponsibleParty string
	Courses          []CourseItem
}

// DispatchOutcome is the terminal result of notifying one recipient.
type DispatchOutcome struct {
	Recipient   string    `json:"recipient"`
	Status      string    `json:"status"`
	CC          []string  `json:"cc"`
	MessageID   string    `json:"message_id,omitempty"`
	CourseCount int       `json:"course_count"`
	Timestamp   time.Time `json:"ts"`
	Actor       string    `json:"actor"`
}

// Failed reports whether the outcome is a failure.
func (o DispatchOutcome) Failed() bool {
	return strings.HasPrefix(o.Status, outcomeFailed)
}

// AuditRecord is one persisted reminder log entry.
type AuditRecord struct {
	Timestamp   time.Time
	Actor       string
	RunID       string
	Recipient   string
	CC          []string
	CourseCount int
	Status      string
	MessageID   string
}

// DatasetSummary is the persisted metadata of one roster upload.
type DatasetSummary struct {
	Timestamp time.Time `json:"ts"`
	RowCount  int       `json:"row_count"`
	Org       string    `json:"org"`
}
