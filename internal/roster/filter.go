package roster

import (
	"github.com/sypherin/comply/internal/domain"
)

// Filter narrows a dataset to selected organisational units and courses.
// An empty list matches everything for that column.
type Filter struct {
	Orgs        []string
	BUs         []string
	Departments []string
	Courses     []string
}

// Empty reports whether the filter selects every record.
func (f Filter) Empty() bool {
	return len(f.Orgs) == 0 && len(f.BUs) == 0 && len(f.Departments) == 0 && len(f.Courses) == 0
}

// Match reports whether a single record passes every column selection.
func (f Filter) Match(r domain.Record) bool {
	return in(f.Orgs, r.Org) &&
		in(f.BUs, r.BU) &&
		in(f.Departments, r.Department) &&
		in(f.Courses, r.CourseTitle)
}

// Apply returns a dataset holding only the matching records, in their
// roster order. Warnings and metadata are carried over.
func (f Filter) Apply(ds *domain.Dataset) *domain.Dataset {
	if ds == nil {
		return nil
	}
	if f.Empty() {
		return ds
	}
	out := &domain.Dataset{
		Warnings:   ds.Warnings,
		Encoding:   ds.Encoding,
		UploadedAt: ds.UploadedAt,
	}
	for _, r := range ds.Records {
		if f.Match(r) {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

func in(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
