package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/sypherin/comply/internal/domain"
)

func testRecords() []domain.AuditRecord {
	ts := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	return []domain.AuditRecord{
		{Timestamp: ts, Actor: "dana@x.com", RunID: "run-1", Recipient: "a@x.com", CC: []string{"boss@x.com", " ", "hr@x.com"}, CourseCount: 2, Status: "sent", MessageID: "m1"},
		{Timestamp: ts, Actor: "dana@x.com", RunID: "run-1", Recipient: "b@x.com", CourseCount: 1, Status: "failed:http_500"},
	}
}

func TestCleanStrings(t *testing.T) {
	got := cleanStrings([]string{" a ", "", "b\nc", "\r"})
	if strings.Join(got, "|") != "a|b c" {
		t.Errorf("cleanStrings() = %q", got)
	}
}

func TestWriteAuditCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAuditCSV(&buf, testRecords()); err != nil {
		t.Fatalf("WriteAuditCSV() error = %v", err)
	}

	want := "ts,actor,run_id,recipient,cc,course_count,status,message_id\r\n" +
		"2024-06-01T09:30:00Z,dana@x.com,run-1,a@x.com,boss@x.com | hr@x.com,2,sent,m1\r\n" +
		"2024-06-01T09:30:00Z,dana@x.com,run-1,b@x.com,,1,failed:http_500,\r\n"
	if buf.String() != want {
		t.Errorf("WriteAuditCSV() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteAuditCSVNeutralizesFormulas(t *testing.T) {
	rec := domain.AuditRecord{
		Timestamp:   time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
		Actor:       "+dana@x.com",
		RunID:       "run-1",
		Recipient:   "=1+2@x.com",
		CC:          []string{"@boss"},
		CourseCount: 1,
		Status:      "-failed",
	}

	var buf bytes.Buffer
	if err := WriteAuditCSV(&buf, []domain.AuditRecord{rec}); err != nil {
		t.Fatalf("WriteAuditCSV() error = %v", err)
	}
	want := "2024-06-01T09:30:00Z,'+dana@x.com,run-1,'=1+2@x.com,'@boss,1,'-failed,\r\n"
	if !strings.HasSuffix(buf.String(), want) {
		t.Errorf("WriteAuditCSV() = %q, want suffix %q", buf.String(), want)
	}
}

func TestSafeCell(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"", ""},
		{"a@x.com", "a@x.com"},
		{"=SUM(A1)", "'=SUM(A1)"},
		{"\tx", "'\tx"},
		{"failed:http_500", "failed:http_500"},
	}
	for _, tc := range testCases {
		if got := safeCell(tc.in); got != tc.want {
			t.Errorf("safeCell(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWriteAuditFile(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "audit.csv")
	if err := WriteAuditFile(plain, testRecords(), false); err != nil {
		t.Fatalf("WriteAuditFile(plain) error = %v", err)
	}
	content, err := os.ReadFile(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(content), "ts,actor,") {
		t.Errorf("unexpected plain content %q", content)
	}

	compressed := filepath.Join(dir, "audit.csv.br")
	if err := WriteAuditFile(compressed, testRecords(), true); err != nil {
		t.Fatalf("WriteAuditFile(compressed) error = %v", err)
	}
	f, err := os.Open(compressed)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := io.ReadAll(brotli.NewReader(f))
	if err != nil {
		t.Fatalf("brotli decode error = %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Errorf("compressed export differs from plain export")
	}

	if err := WriteAuditFile(filepath.Join(dir, "missing", "x.csv"), nil, false); err == nil {
		t.Error("expected error for missing directory")
	}
}
