// Package roster reads, validates and normalizes training-completion exports.
package roster

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sypherin/comply/internal/domain"
)

// Column names of the roster export, in export order.
const (
	ColLearner      = "Learner"
	ColFirstName    = "First Name"
	ColLastName     = "Last Name"
	ColEmail        = "Email Address"
	ColManagerEmail = "Manager Email"
	ColCourseTitle  = "Course Title"
	ColStatus       = "Completion Status"
	ColRequiredDate = "Required Date"
	ColOrg          = "Org"
	ColBU           = "BU"
	ColDepartment   = "Department"
)

// RequiredColumns lists every header a roster must carry.
var RequiredColumns = []string{
	ColLearner, ColFirstName, ColLastName, ColEmail, ColManagerEmail,
	ColCourseTitle, ColStatus, ColRequiredDate, ColOrg, ColBU, ColDepartment,
}

var (
	ErrOversizedInput        = errors.New("roster: input too large; split it into smaller files")
	ErrSensitiveDataDetected = errors.New("roster: national-ID-like identifiers detected; remove them before upload")
	ErrMissingColumns        = errors.New("roster: missing required columns")
	ErrEmptyInput            = errors.New("roster: empty file, no header row found")
)

// MissingColumnsError names every required column absent from the header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "roster: missing required columns: " + strings.Join(e.Columns, ", ")
}

func (e *MissingColumnsError) Is(target error) bool {
	return target == ErrMissingColumns
}

// Validator turns raw export bytes into a Dataset.
type Validator struct {
	MaxRows   int
	Sensitive *regexp.Regexp

	validate *validator.Validate
	now      func() time.Time
}

// NewValidator builds a Validator. A nil pattern disables the content guard.
func NewValidator(maxRows int, sensitive *regexp.Regexp) *Validator {
	return &Validator{
		MaxRows:   maxRows,
		Sensitive: sensitive,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Validate runs the size, content and schema guards in that order and then
// normalizes every row. Rows without a usable email address are skipped and
// reported as warnings; a bad date never fails the upload.
func (v *Validator) Validate(data []byte) (*domain.Dataset, error) {
	decoded, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("roster: read header row: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows, lines, warnings, err := v.readRows(reader)
	if err != nil {
		return nil, err
	}

	if containsSensitive(v.Sensitive, rows) {
		return nil, ErrSensitiveDataDetected
	}

	if missing := missingColumns(header); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	ds := &domain.Dataset{
		Records:    make([]domain.Record, 0, len(rows)),
		Warnings:   warnings,
		Encoding:   enc,
		UploadedAt: v.now().UTC(),
	}
	for i, row := range rows {
		rowNum := lines[i]
		if len(row) != len(header) {
			ds.Warnings = append(ds.Warnings, domain.Warning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d", len(row), len(header)),
			})
		}

		rec := toRecord(row, index)
		if rec.Email == "" {
			ds.Warnings = append(ds.Warnings, domain.Warning{Row: rowNum, Message: "missing email address; row skipped"})
			continue
		}
		if err := v.validate.Var(rec.Email, "email"); err != nil {
			ds.Warnings = append(ds.Warnings, domain.Warning{
				Row:     rowNum,
				Message: fmt.Sprintf("invalid email address %q; row skipped", rec.Email),
			})
			continue
		}
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

// readRows reads data rows, stopping as soon as the size limit is exceeded so
// an oversized upload costs at most MaxRows+1 row reads.
func (v *Validator) readRows(reader *csv.Reader) ([][]string, []int, []domain.Warning, error) {
	var (
		rows     [][]string
		lines    []int
		warnings []domain.Warning
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var line int
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			warnings = append(warnings, domain.Warning{Row: line, Message: fmt.Sprintf("parse error: %v", err)})
			continue
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, row)
		lines = append(lines, line)
		if v.MaxRows > 0 && len(rows) > v.MaxRows {
			return nil, nil, nil, ErrOversizedInput
		}
	}
	return rows, lines, warnings, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func toRecord(row []string, index map[string]int) domain.Record {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return SanitizeText(row[i])
	}

	return domain.Record{
		Learner:      cell(ColLearner),
		FirstName:    cell(ColFirstName),
		LastName:     cell(ColLastName),
		Email:        cell(ColEmail),
		ManagerEmail: cell(ColManagerEmail),
		CourseTitle:  cell(ColCourseTitle),
		Status:       NormalizeStatus(cell(ColStatus)),
		RequiredDate: ParseDate(cell(ColRequiredDate)),
		Org:          cell(ColOrg),
		BU:           cell(ColBU),
		Department:   cell(ColDepartment),
	}
}
