// Package audit keeps the reminder log and upload metadata, and enforces the
// retention window.
package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/domain"
)

// DefaultRetentionDays applies when no retention is configured.
const DefaultRetentionDays = 90

var ErrNegativeRetention = errors.New("audit: retention days must not be negative")

// Sink stores dispatch outcomes and dataset summaries.
type Sink interface {
	// LogBatch appends one record per outcome, all sharing one timestamp and
	// actor. Either every record is stored or none is.
	LogBatch(ctx context.Context, runID, actor string, outcomes []domain.DispatchOutcome) error
	// SaveDatasetSummary records the size and dominant Org of an upload.
	SaveDatasetSummary(ctx context.Context, ds *domain.Dataset) error
	// PurgeOlderThan deletes records strictly older than now minus the
	// retention window. Running it twice deletes nothing the second time.
	PurgeOlderThan(ctx context.Context, retentionDays int) (PurgeResult, error)
	// Records lists the reminder log oldest first.
	Records(ctx context.Context) ([]domain.AuditRecord, error)
	// Summaries lists dataset summaries oldest first.
	Summaries(ctx context.Context) ([]domain.DatasetSummary, error)
	Close() error
}

// PurgeResult counts the rows a purge removed.
type PurgeResult struct {
	Cutoff    time.Time
	Reminders int64
	Summaries int64
}

// Cutoff returns the instant before which records are expired.
func Cutoff(now time.Time, retentionDays int) (time.Time, error) {
	if retentionDays < 0 {
		return time.Time{}, ErrNegativeRetention
	}
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour), nil
}

// Open returns the Postgres sink when dsn is set and the in-memory sink
// otherwise.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (Sink, error) {
	if dsn == "" {
		return NewMemory(), nil
	}
	return OpenPostgres(ctx, dsn, logger)
}
