package mappers

import (
	"time"

	"github.com/sypherin/comply/internal/domain"
)

// OutcomesToAudit stamps a batch of outcomes with one timestamp, actor and run
// id. Outcome order is kept.
func OutcomesToAudit(ts time.Time, runID, actor string, outcomes []domain.DispatchOutcome) []domain.AuditRecord {
	out := make([]domain.AuditRecord, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, domain.AuditRecord{
			Timestamp:   ts,
			Actor:       actor,
			RunID:       runID,
			Recipient:   o.Recipient,
			CC:          append([]string(nil), o.CC...),
			CourseCount: o.CourseCount,
			Status:      o.Status,
			MessageID:   pickMessageID(o),
		})
	}
	return out
}

// pickMessageID drops ids on anything that was not actually sent.
func pickMessageID(o domain.DispatchOutcome) string {
	if o.Status != domain.OutcomeSent {
		return ""
	}
	return o.MessageID
}

// DatasetToSummary records the size and dominant Org of an upload.
func DatasetToSummary(ts time.Time, ds *domain.Dataset) domain.DatasetSummary {
	org, _ := ds.TopOrg()
	return domain.DatasetSummary{
		Timestamp: ts,
		RowCount:  ds.Len(),
		Org:       org,
	}
}
