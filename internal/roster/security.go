package roster

import (
	"fmt"
	"regexp"
	"strings"
)

// sensitiveSampleRows bounds how much of the upload the content guard reads.
// The scan is a best-effort sample, not a guarantee that the file is clean.
const sensitiveSampleRows = 100

// CompilePattern compiles the sensitive-identifier pattern from configuration.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("roster: sensitive pattern: %w", err)
	}
	return re, nil
}

func containsSensitive(re *regexp.Regexp, rows [][]string) bool {
	if re == nil {
		return false
	}
	n := min(len(rows), sensitiveSampleRows)
	var sb strings.Builder
	for _, row := range rows[:n] {
		for _, cell := range row {
			sb.WriteString(cell)
			sb.WriteByte(' ')
		}
	}
	return re.MatchString(sb.String())
}

// SanitizeText removes NUL bytes and surrounding whitespace from a cell.
func SanitizeText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
