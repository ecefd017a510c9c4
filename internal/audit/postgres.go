package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/mappers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const ccSeparator = ";"

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Postgres is the durable Sink.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenPostgres connects to dsn and brings the schema up to date. Opening an
// already provisioned database is a no-op for the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Postgres{db: db, logger: logger, now: time.Now}, nil
}

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("schema up to date")
			return nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("audit: migration failed: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("audit: migration failed: %w", err)
	}
	logger.Info("schema migrated")
	return nil
}

func (p *Postgres) LogBatch(ctx context.Context, runID, actor string, outcomes []domain.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	recs := mappers.OutcomesToAudit(p.now().UTC(), runID, actor, outcomes)

	return p.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO reminder_log (ts, actor, run_id, recipient, cc, course_count, status, message_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
		if err != nil {
			return fmt.Errorf("audit: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range recs {
			var msgID sql.NullString
			if r.MessageID != "" {
				msgID = sql.NullString{String: r.MessageID, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				r.Timestamp, r.Actor, r.RunID, r.Recipient,
				strings.Join(r.CC, ccSeparator), r.CourseCount, r.Status, msgID,
			); err != nil {
				return fmt.Errorf("audit: insert reminder log: %w", err)
			}
		}
		return nil
	})
}

func (p *Postgres) SaveDatasetSummary(ctx context.Context, ds *domain.Dataset) error {
	s := mappers.DatasetToSummary(p.now().UTC(), ds)
	var org sql.NullString
	if s.Org != "" {
		org = sql.NullString{String: s.Org, Valid: true}
	}
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO dataset_summary (ts, row_count, org) VALUES ($1, $2, $3)`,
		s.Timestamp, s.RowCount, org,
	); err != nil {
		return fmt.Errorf("audit: insert dataset summary: %w", err)
	}
	return nil
}

func (p *Postgres) PurgeOlderThan(ctx context.Context, retentionDays int) (PurgeResult, error) {
	cutoff, err := Cutoff(p.now().UTC(), retentionDays)
	if err != nil {
		return PurgeResult{}, err
	}
	res := PurgeResult{Cutoff: cutoff}

	err = p.inTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx, `DELETE FROM reminder_log WHERE ts < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("audit: purge reminder log: %w", err)
		}
		res.Reminders, _ = r.RowsAffected()

		r, err = tx.ExecContext(ctx, `DELETE FROM dataset_summary WHERE ts < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("audit: purge dataset summary: %w", err)
		}
		res.Summaries, _ = r.RowsAffected()
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}

	p.logger.Info("purged expired audit rows",
		zap.Time("cutoff", cutoff),
		zap.Int64("reminders", res.Reminders),
		zap.Int64("summaries", res.Summaries),
	)
	return res, nil
}

func (p *Postgres) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ts, actor, run_id, recipient, cc, course_count, status, message_id
		FROM reminder_log ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("audit: query reminder log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			r     domain.AuditRecord
			cc    string
			msgID sql.NullString
		)
		if err := rows.Scan(&r.Timestamp, &r.Actor, &r.RunID, &r.Recipient, &cc, &r.CourseCount, &r.Status, &msgID); err != nil {
			return nil, fmt.Errorf("audit: scan reminder log: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.CC = splitCC(cc)
		r.MessageID = msgID.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read reminder log: %w", err)
	}
	return out, nil
}

func (p *Postgres) Summaries(ctx context.Context) ([]domain.DatasetSummary, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ts, row_count, org FROM dataset_summary ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("audit: query dataset summary: %w", err)
	}
	defer rows.Close()

	var out []domain.DatasetSummary
	for rows.Next() {
		var (
			s   domain.DatasetSummary
			org sql.NullString
		)
		if err := rows.Scan(&s.Timestamp, &s.RowCount, &org); err != nil {
			return nil, fmt.Errorf("audit: scan dataset summary: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		s.Org = org.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read dataset summary: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

func splitCC(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ccSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ Sink = (*Postgres)(nil)
