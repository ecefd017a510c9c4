package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sypherin/comply/internal/roster"
)

const rosterCSV = "Learner,First Name,Last Name,Email Address,Manager Email,Course Title,Completion Status,Required Date,Org,BU,Department\n" +
	`"Jane Doe","Jane","Doe","jane@x.com","boss@x.com","Safety 101","in progress","2024-01-01","Acme","Ops","IT"` + "\n" +
	`"Jane Doe","Jane","Doe","jane@x.com","boss@x.com","Ethics","complete","2024-01-01","Acme","Ops","IT"` + "\n" +
	`"Bo Li","Bo","Li","bo@x.com","","Ethics","not started","2024-03-01","Other","Ops","HR"` + "\n" +
	`"Bad Row","Bad","Row","not-an-email","","Ethics","not started","2024-03-01","Acme","Ops","HR"` + "\n"

// isolate clears every variable that would point a command at real services.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COMPLY_CONFIG", "COMPLY_MODE", "DATABASE_URL", "GRAPH_TOKEN",
		"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "AUTH_MODE", "ALLOWED_EMAIL_DOMAINS",
		"COMPLY_TEMPLATE_PATH", "COMPLY_CC_MANAGERS",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(t, context.Background(), args...)
}

func runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	out, err := run(t, "validate", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rows accepted: 3")
	assert.Contains(t, out, "top org: Acme")
	assert.Contains(t, out, "row 5:")
}

func TestValidateCommandJSONFields(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	out, err := run(t, "validate", "--file", path, "-o", "json", "--fields", "rows")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"rows": float64(3)}, got)
}

func TestValidateCommandRequiresInput(t *testing.T) {
	isolate(t)
	_, err := run(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file")
}

func TestStatsCommand(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	out, err := run(t, "stats", "--file", path, "--org", "Acme")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 2  completed: 1  outstanding: 1  completion: 50.0%")
	assert.Contains(t, out, "Safety 101")
}

func TestLookupCommand(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	out, err := run(t, "lookup", "--file", path, "-o", "json", "--fields", "course_title,status", "JANE@X.COM")
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []map[string]any{
		{"course_title": "Ethics", "status": "Completed"},
		{"course_title": "Safety 101", "status": "In Progress"},
	}, got)

	out, err = run(t, "lookup", "--file", path, "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, `no records match "nobody"`)
}

func TestSendRehearsal(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	out, err := run(t, "send", "--file", path, "--cc-managers")
	require.NoError(t, err)
	assert.Contains(t, out, "jane@x.com")
	assert.Contains(t, out, "boss@x.com")
	assert.Contains(t, out, "dry-run")
	assert.Contains(t, out, "complete — 2 targeted (rehearsal, 0 failed)")
}

func TestSendLiveOfflineWithMetrics(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)
	metrics := filepath.Join(t.TempDir(), "comply.prom")

	out, err := run(t, "send", "--file", path, "--live", "--org", "Acme", "-o", "json", "--metrics-file", metrics)
	require.NoError(t, err)

	var res SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.DryRun)
	assert.Equal(t, 1, res.Targeted)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "simulated", res.Outcomes[0].Status)
	assert.Equal(t, "complete — 1 targeted", res.Summary)

	b, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(b), `comply_reminder_outcomes_total{status="simulated"} 1`)
}

func TestSendInterruptedReportsCancelled(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runContext(t, ctx, "send", "--file", path, "--live", "-o", "json")
	require.NoError(t, err)

	var res SendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Targeted)
	assert.Equal(t, 2, res.Failed)
	for _, o := range res.Outcomes {
		assert.Equal(t, "failed:cancelled", o.Status)
	}
	assert.Equal(t, "complete — 2 targeted", res.Summary)
}

func TestSignalContextCancelsOnSIGTERM(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}
}

func TestSendBlocksOnInvalidRoster(t *testing.T) {
	isolate(t)
	path := writeRoster(t, "Learner,Email Address\nJane,jane@x.com\n")

	out, err := run(t, "send", "--file", path, "--live")
	require.ErrorIs(t, err, roster.ErrMissingColumns)
	assert.NotContains(t, out, "targeted")
}

func TestSendBlocksOnTemplate(t *testing.T) {
	isolate(t)
	path := writeRoster(t, rosterCSV)
	t.Setenv("COMPLY_TEMPLATE_PATH", filepath.Join(t.TempDir(), "missing.html"))

	_, err := run(t, "send", "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template")
}

func TestPurgeCommand(t *testing.T) {
	isolate(t)
	out, err := run(t, "purge", "--retention-days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 reminder entries and 0 dataset summaries")

	_, err = run(t, "purge", "--retention-days", "-1")
	require.Error(t, err)
}

func TestAuditExportCommand(t *testing.T) {
	isolate(t)
	dest := filepath.Join(t.TempDir(), "audit.csv")

	out, err := run(t, "audit", "export", "--out", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 records")

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "ts,actor,run_id,recipient,cc,course_count,status,message_id"))
}

func TestAuditSummariesCommand(t *testing.T) {
	isolate(t)

	out, err := run(t, "audit", "summaries")
	require.NoError(t, err)
	assert.Contains(t, out, "no dataset summaries recorded")

	out, err = run(t, "audit", "summaries", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestUnknownOutputFormat(t *testing.T) {
	isolate(t)
	_, err := run(t, "purge", "-o", "yaml")
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	type row struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	got := project([]row{{"x", 1}, {"y", 2}}, []string{"b"})
	assert.Equal(t, []map[string]any{{"b": float64(1)}, {"b": float64(2)}}, got)

	assert.Equal(t, map[string]any{"a": "x"}, project(row{"x", 1}, []string{"a"}))
}
