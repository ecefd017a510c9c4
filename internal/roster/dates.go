package roster

import (
	"strings"
	"time"

	"github.com/sypherin/comply/internal/domain"
)

// dateLayouts are tried in order. Exports from the LMS have used every one of
// these at some point.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"1/2/2006 15:04",
	"1/2/2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// ParseDate parses a Required Date cell. Empty or unrecognized input yields
// the unknown date rather than an error.
func ParseDate(s string) domain.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.NewDate(t)
		}
	}
	return domain.Date{}
}
