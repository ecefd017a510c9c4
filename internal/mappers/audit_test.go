package mappers

import (
	"testing"
	"time"

	"github.com/sypherin/comply/internal/domain"
)

func TestOutcomesToAudit(t *testing.T) {
	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	outcomes := []domain.DispatchOutcome{
		{Recipient: "a@x.com", Status: domain.OutcomeSent, MessageID: "m1", CC: []string{"boss@x.com"}, CourseCount: 2, Actor: "ignored@x.com"},
		{Recipient: "b@x.com", Status: domain.OutcomeDryRun, MessageID: "stray", CourseCount: 1},
		{Recipient: "c@x.com", Status: domain.FailedStatus("http_500"), CourseCount: 3},
	}

	recs := OutcomesToAudit(ts, "run-1", "dana@x.com", outcomes)
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if !r.Timestamp.Equal(ts) || r.Actor != "dana@x.com" || r.RunID != "run-1" {
			t.Errorf("record %d not stamped: %+v", i, r)
		}
		if r.Recipient != outcomes[i].Recipient || r.Status != outcomes[i].Status || r.CourseCount != outcomes[i].CourseCount {
			t.Errorf("record %d does not mirror its outcome: %+v", i, r)
		}
	}
	if recs[0].MessageID != "m1" {
		t.Errorf("Expected message id m1, got %q", recs[0].MessageID)
	}
	if recs[1].MessageID != "" {
		t.Errorf("Expected no message id for dry-run, got %q", recs[1].MessageID)
	}

	// the record must not share the outcome's cc slice
	outcomes[0].CC[0] = "changed@x.com"
	if recs[0].CC[0] != "boss@x.com" {
		t.Errorf("Expected cc to be copied, got %v", recs[0].CC)
	}
}

func TestDatasetToSummary(t *testing.T) {
	ts := time.Now()
	ds := &domain.Dataset{Records: []domain.Record{{Org: "Acme"}, {Org: "Globex"}, {Org: "Acme"}, {Org: ""}}}

	s := DatasetToSummary(ts, ds)
	if s.RowCount != 4 || s.Org != "Acme" || !s.Timestamp.Equal(ts) {
		t.Errorf("Unexpected summary %+v", s)
	}

	s = DatasetToSummary(ts, &domain.Dataset{})
	if s.RowCount != 0 || s.Org != "" {
		t.Errorf("Expected empty summary, got %+v", s)
	}
}
