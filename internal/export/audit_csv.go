// Package export writes the reminder log out for auditors.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/sypherin/comply/internal/domain"
)

// Keep header order EXACT: auditors diff exports across runs.
var auditHeader = []string{
	"ts",
	"actor",
	"run_id",
	"recipient",
	"cc",
	"course_count",
	"status",
	"message_id",
}

// WriteAuditCSV writes the reminder log as CSV with CRLF line endings.
func WriteAuditCSV(w io.Writer, records []domain.AuditRecord) error {
	cw := csv.NewWriter(w)
	// spreadsheet tools expect CRLF
	cw.UseCRLF = true

	if err := cw.Write(auditHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(toAuditRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func toAuditRow(r domain.AuditRecord) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),            // ts
		safeCell(r.Actor),                                 // actor
		safeCell(r.RunID),                                 // run_id
		safeCell(r.Recipient),                             // recipient
		safeCell(strings.Join(cleanStrings(r.CC), " | ")), // cc
		strconv.Itoa(r.CourseCount),                       // course_count
		safeCell(r.Status),                                // status
		safeCell(r.MessageID),                             // message_id
	}
}

// safeCell prefixes a quote to cells a spreadsheet would evaluate as a
// formula. Roster values reach the export unchanged otherwise.
func safeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// WriteAuditFile writes the CSV to path. With compress set the file is
// brotli-compressed; callers usually name it *.csv.br.
func WriteAuditFile(path string, records []domain.AuditRecord, compress bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("export: close %s: %w", path, cerr)
		}
	}()

	if !compress {
		return WriteAuditCSV(f, records)
	}

	bw := brotli.NewWriterLevel(f, brotli.DefaultCompression)
	if err := WriteAuditCSV(bw, records); err != nil {
		_ = bw.Close()
		return err
	}
	return bw.Close()
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		// avoid newlines
		s = strings.ReplaceAll(s, "\n", " ")
		s = strings.ReplaceAll(s, "\r", " ")
		out = append(out, s)
	}
	return out
}
