// Package reminder turns a validated roster into one reminder per learner.
package reminder

import (
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

// Group partitions the incomplete records of a dataset by email address.
// Groups come out in the order their email first appears; courses keep roster
// order. Completed records never produce a group. The responsible party is the
// first non-empty Manager Email among the group's records.
func Group(ds *domain.Dataset) []domain.RecipientGroup {
	if ds == nil {
		return nil
	}

	var groups []domain.RecipientGroup
	idx := make(map[string]int)
	for _, r := range ds.Records {
		if !r.Status.Incomplete() {
			continue
		}
		key := strings.TrimSpace(r.Email)
		if key == "" {
			continue
		}

		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, domain.RecipientGroup{
				Email:       key,
				DisplayName: DisplayName(r),
			})
		}
		g := &groups[i]
		if g.ResponsibleParty == "" {
			g.ResponsibleParty = strings.TrimSpace(r.ManagerEmail)
		}
		g.Courses = append(g.Courses, domain.CourseItem{Title: r.CourseTitle, RequiredDate: r.RequiredDate})
	}
	return groups
}

// DisplayName picks the learner name, then "First Last", then the email.
func DisplayName(r domain.Record) string {
	if n := strings.TrimSpace(r.Learner); n != "" {
		return n
	}
	if n := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName)); n != "" {
		return n
	}
	return strings.TrimSpace(r.Email)
}
