package roster

import (
	"sort"
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

// Lookup returns the records of one person. The query matches an email address
// exactly (ignoring case) or a case-insensitive substring of the learner name. Results are
// sorted by learner then course title.
func Lookup(ds *domain.Dataset, query string) []domain.Record {
	q := strings.TrimSpace(query)
	if ds == nil || q == "" {
		return nil
	}
	lq := strings.ToLower(q)

	var out []domain.Record
	for _, r := range ds.Records {
		if strings.EqualFold(r.Email, q) || strings.Contains(strings.ToLower(r.Learner), lq) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Learner != out[j].Learner {
			return out[i].Learner < out[j].Learner
		}
		return out[i].CourseTitle < out[j].CourseTitle
	})
	return out
}
