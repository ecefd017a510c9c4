package roster

import (
	"strings"

	"github.com/sypherin/comply/internal/domain"
)

var statusSynonyms = map[string]domain.Status{
	"complete":    domain.StatusCompleted,
	"completed":   domain.StatusCompleted,
	"done":        domain.StatusCompleted,
	"in progress": domain.StatusInProgress,
	"not started": domain.StatusNotStarted,
	"incomplete":  domain.StatusNotStarted,
}

// NormalizeStatus maps roster status vocabulary onto the canonical values.
// Unknown values are returned trimmed but otherwise unchanged; an empty value
// counts as not started.
func NormalizeStatus(v string) domain.Status {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return domain.StatusNotStarted
	}
	if s, ok := statusSynonyms[strings.ToLower(trimmed)]; ok {
		return s
	}
	return domain.Status(trimmed)
}
