package roster

import (
	"github.com/sypherin/comply/internal/domain"
)

// Stats are the headline completion figures of a dataset.
type Stats struct {
	Total          int           `json:"total"`
	Completed      int           `json:"completed"`
	Outstanding    int           `json:"outstanding"`
	CompletionRate float64       `json:"completion_rate"`
	Courses        []CourseStats `json:"courses"`
}

// CourseStats is the per-course status breakdown.
type CourseStats struct {
	Title    string                `json:"title"`
	ByStatus map[domain.Status]int `json:"by_status"`
}

// Summarize computes Stats. Courses appear in first-seen order.
func Summarize(ds *domain.Dataset) Stats {
	var st Stats
	if ds == nil {
		return st
	}

	idx := make(map[string]int)
	for _, r := range ds.Records {
		st.Total++
		if r.Status == domain.StatusCompleted {
			st.Completed++
		}

		i, ok := idx[r.CourseTitle]
		if !ok {
			i = len(st.Courses)
			idx[r.CourseTitle] = i
			st.Courses = append(st.Courses, CourseStats{Title: r.CourseTitle, ByStatus: map[domain.Status]int{}})
		}
		st.Courses[i].ByStatus[r.Status]++
	}

	st.Outstanding = st.Total - st.Completed
	if st.Total > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Total)
	}
	return st
}
