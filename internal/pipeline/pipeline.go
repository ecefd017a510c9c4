// Package pipeline runs one reminder batch end to end: validate, filter,
// group, dispatch and audit.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/audit"
	"github.com/sypherin/comply/internal/dispatch"
	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/reminder"
	"github.com/sypherin/comply/internal/roster"
)

// ErrAuditWrite marks a batch that was dispatched but not fully audited.
var ErrAuditWrite = errors.New("pipeline: audit write failed")

type Options struct {
	Validator *roster.Validator
	Engine    *dispatch.Engine
	Audit     audit.Sink
	Logger    *zap.Logger
	NewRunID  func() string
}

// Request carries everything that varies between runs.
type Request struct {
	Data   []byte
	Filter roster.Filter
	Run    dispatch.RunOptions
}

type Result struct {
	RunID    string
	Dataset  *domain.Dataset
	Groups   []domain.RecipientGroup
	Outcomes []domain.DispatchOutcome
	Failed   int
}

// Targeted is the number of recipients the run produced an outcome for.
func (r Result) Targeted() int { return len(r.Outcomes) }

func (r Result) Summary() string {
	return fmt.Sprintf("complete — %d targeted", r.Targeted())
}

type Pipeline struct {
	validator *roster.Validator
	engine    *dispatch.Engine
	audit     audit.Sink
	logger    *zap.Logger
	newRunID  func() string
}

func New(opts Options) (*Pipeline, error) {
	if opts.Validator == nil || opts.Engine == nil || opts.Audit == nil {
		return nil, errors.New("pipeline: validator, engine and audit sink are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	return &Pipeline{
		validator: opts.Validator,
		engine:    opts.Engine,
		audit:     opts.Audit,
		logger:    opts.Logger.Named("pipeline"),
		newRunID:  opts.NewRunID,
	}, nil
}

// Run validates req.Data and dispatches reminders for its incomplete rows.
//
// A validation error is returned as is and nothing is sent. An audit failure
// does not stop the batch: Run returns the full Result together with an error
// wrapping ErrAuditWrite.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{RunID: p.newRunID()}
	log := p.logger.With(zap.String("run_id", res.RunID))

	ds, err := p.validator.Validate(req.Data)
	if err != nil {
		log.Warn("roster rejected", zap.Error(err))
		return res, err
	}
	res.Dataset = ds
	log.Info("roster accepted", zap.Int("rows", ds.Len()), zap.Int("warnings", len(ds.Warnings)))

	// a cancelled run still records what happened
	auditCtx := context.WithoutCancel(ctx)

	var auditErrs []error
	if err := p.audit.SaveDatasetSummary(auditCtx, ds); err != nil {
		auditErrs = append(auditErrs, fmt.Errorf("dataset summary: %w", err))
	}

	res.Groups = reminder.Group(req.Filter.Apply(ds))
	res.Outcomes = p.engine.Run(ctx, res.Groups, req.Run)
	for _, o := range res.Outcomes {
		if o.Failed() {
			res.Failed++
		}
	}

	if len(res.Outcomes) > 0 {
		if err := p.audit.LogBatch(auditCtx, res.RunID, req.Run.Actor.Email, res.Outcomes); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("reminder log: %w", err))
		}
	}

	if len(auditErrs) > 0 {
		err := fmt.Errorf("%w: %w", ErrAuditWrite, errors.Join(auditErrs...))
		log.Error("audit write failed", zap.Int("outcomes", len(res.Outcomes)), zap.Error(err))
		return res, err
	}

	log.Info(res.Summary(), zap.Int("failed", res.Failed), zap.Bool("dry_run", req.Run.DryRun))
	return res, nil
}
