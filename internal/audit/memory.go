package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/mappers"
)

// Memory is a process-local Sink. Contents are lost on exit.
type Memory struct {
	mu        sync.Mutex
	records   []domain.AuditRecord
	summaries []domain.DatasetSummary
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) LogBatch(ctx context.Context, runID, actor string, outcomes []domain.DispatchOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := mappers.OutcomesToAudit(m.now().UTC(), runID, actor, outcomes)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	return nil
}

func (m *Memory) SaveDatasetSummary(ctx context.Context, ds *domain.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := mappers.DatasetToSummary(m.now().UTC(), ds)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

func (m *Memory) PurgeOlderThan(ctx context.Context, retentionDays int) (PurgeResult, error) {
	cutoff, err := Cutoff(m.now().UTC(), retentionDays)
	if err != nil {
		return PurgeResult{}, err
	}
	res := PurgeResult{Cutoff: cutoff}

	m.mu.Lock()
	defer m.mu.Unlock()

	keptRecs := m.records[:0]
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			res.Reminders++
			continue
		}
		keptRecs = append(keptRecs, r)
	}
	m.records = keptRecs

	keptSums := m.summaries[:0]
	for _, s := range m.summaries {
		if s.Timestamp.Before(cutoff) {
			res.Summaries++
			continue
		}
		keptSums = append(keptSums, s)
	}
	m.summaries = keptSums

	return res, nil
}

func (m *Memory) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditRecord(nil), m.records...), nil
}

func (m *Memory) Summaries(ctx context.Context) ([]domain.DatasetSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DatasetSummary(nil), m.summaries...), nil
}

func (m *Memory) Close() error { return nil }

var _ Sink = (*Memory)(nil)
