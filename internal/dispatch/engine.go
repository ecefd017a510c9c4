// Package dispatch sends one reminder per recipient group and records what
// happened to each.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sypherin/comply/internal/concurrency"
	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/httpx"
	"github.com/sypherin/comply/internal/logging"
	"github.com/sypherin/comply/internal/providers"
	"github.com/sypherin/comply/internal/reminder"
	"github.com/sypherin/comply/internal/retry"
)

const (
	reasonCancelled = "cancelled"
	maxReasonLen    = 200
)

var errRunEnding = errors.New("dispatch: run ends before the next send slot")

// Options configures an Engine.
type Options struct {
	Directory providers.Directory
	Mailer    providers.Mailer
	Template  *reminder.Template

	Retry          retry.Policy
	Workers        int
	SendRatePerMin int

	Metrics *Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
	Now     func() time.Time
}

// RunOptions are fixed for the whole run.
type RunOptions struct {
	// DryRun renders and resolves everything but never calls the mailer.
	DryRun bool
	// CCResponsibleParty copies the resolved manager on each reminder.
	CCResponsibleParty bool
	// UseDirectory allows a remote manager lookup when the roster has none.
	// It only takes effect together with CCResponsibleParty.
	UseDirectory bool

	Subject string
	Actor   domain.Principal
	// SenderName signs the reminder; empty falls back to the actor's name.
	SenderName string
}

// Engine fans groups out over a bounded worker pool.
type Engine struct {
	dir     providers.Directory
	mailer  providers.Mailer
	tpl     *reminder.Template
	policy  retry.Policy
	workers int
	limiter *rate.Limiter
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Mailer == nil {
		return nil, errors.New("dispatch: mailer is required")
	}
	if opts.Template == nil {
		return nil, errors.New("dispatch: template is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/sypherin/comply/internal/dispatch")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = concurrency.DefaultOptions().MaxWorkers
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = httpx.IsTransient
	}

	limit := rate.Inf
	if opts.SendRatePerMin > 0 {
		limit = rate.Limit(float64(opts.SendRatePerMin) / 60.0)
	}

	return &Engine{
		dir:     opts.Directory,
		mailer:  opts.Mailer,
		tpl:     opts.Template,
		policy:  opts.Retry,
		workers: opts.Workers,
		limiter: rate.NewLimiter(limit, max(1, opts.SendRatePerMin/10)),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.Named("dispatch"),
		now:     opts.Now,
	}, nil
}

// Run returns exactly one outcome per group, in group order. Failures of one
// recipient never affect another. Once ctx is done no new send starts and
// every remaining group is reported as failed:cancelled.
func (e *Engine) Run(ctx context.Context, groups []domain.RecipientGroup, opts RunOptions) []domain.DispatchOutcome {
	ctx, span := e.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.Int("groups", len(groups)),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Bool("cc_responsible_party", opts.CCResponsibleParty),
	))
	defer span.End()

	outcomes, errs := concurrency.ProcessParallel(ctx, groups, concurrency.ParallelOptions{MaxWorkers: e.workers},
		func(ctx context.Context, _ int, g domain.RecipientGroup) (domain.DispatchOutcome, error) {
			return e.dispatchOne(ctx, g, opts), nil
		})

	for i, err := range errs {
		if err != nil {
			outcomes[i] = e.outcome(groups[i], opts, domain.FailedStatus(reasonCancelled), nil, "")
			e.metrics.outcome(outcomes[i].Status)
		}
	}

	var failed int
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	e.logger.Info("dispatch finished",
		zap.Int("targeted", len(outcomes)),
		zap.Int("failed", failed),
		zap.Bool("dry_run", opts.DryRun),
	)
	return outcomes
}

func (e *Engine) dispatchOne(ctx context.Context, g domain.RecipientGroup, opts RunOptions) (out domain.DispatchOutcome) {
	ctx, span := e.tracer.Start(ctx, "dispatch.recipient", trace.WithAttributes(
		attribute.Int("course_count", len(g.Courses)),
	))
	defer func() {
		span.SetAttributes(attribute.String("status", out.Status))
		if out.Failed() {
			span.SetStatus(codes.Error, out.Status)
		}
		span.End()
		e.metrics.outcome(out.Status)
	}()

	log := e.logger.With(zap.String("recipient", logging.MaskEmail(g.Email)))

	var cc []string
	if opts.CCResponsibleParty {
		rp, ok := providers.ResolveResponsibleParty(ctx, g, e.dir, opts.UseDirectory)
		if ok {
			cc = []string{rp}
			e.metrics.lookup("found")
		} else {
			e.metrics.lookup("absent")
		}
	}

	msg := providers.Message{
		To:      []string{g.Email},
		CC:      cc,
		Subject: opts.Subject,
		HTML:    e.tpl.Render(g, senderName(opts)),
	}

	if opts.DryRun {
		log.Debug("rehearsal: would send", zap.Int("cc", len(cc)), zap.Int("courses", len(g.Courses)))
		return e.outcome(g, opts, domain.OutcomeDryRun, cc, "")
	}

	var delivery providers.Delivery
	err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := e.limiter.Wait(ctx); err != nil {
			// the limiter refuses when the run would end before a token frees up
			return retry.Permanent(fmt.Errorf("%w: %v", errRunEnding, err))
		}
		start := time.Now()
		d, err := e.mailer.Send(ctx, msg)
		result := "ok"
		if err != nil {
			result = "error"
			log.Warn("send attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		e.metrics.attempt(result, time.Since(start).Seconds())
		delivery = d
		return err
	})
	if err != nil {
		reason := failureReason(ctx, err)
		log.Error("send failed", zap.String("reason", reason), zap.Error(err))
		return e.outcome(g, opts, domain.FailedStatus(reason), cc, "")
	}

	if delivery.Simulated {
		return e.outcome(g, opts, domain.OutcomeSimulated, cc, "")
	}
	log.Info("sent", zap.String("message_id", delivery.ID))
	return e.outcome(g, opts, domain.OutcomeSent, cc, delivery.ID)
}

func (e *Engine) outcome(g domain.RecipientGroup, opts RunOptions, status string, cc []string, messageID string) domain.DispatchOutcome {
	if cc == nil {
		cc = []string{}
	}
	return domain.DispatchOutcome{
		Recipient:   g.Email,
		Status:      status,
		CC:          cc,
		MessageID:   messageID,
		CourseCount: len(g.Courses),
		Timestamp:   e.now().UTC(),
		Actor:       opts.Actor.Email,
	}
}

func senderName(opts RunOptions) string {
	if opts.SenderName != "" {
		return opts.SenderName
	}
	return opts.Actor.Name
}

// failureReason condenses an error into the reason part of failed:<reason>.
// Only the run's own cancellation reads as cancelled; a request that timed
// out while the run was live keeps its error text.
func failureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, errRunEnding) {
		return reasonCancelled
	}
	var herr *httpx.HTTPError
	if errors.As(err, &herr) {
		return fmt.Sprintf("http_%d", herr.StatusCode)
	}
	reason := err.Error()
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) && ex.Err != nil {
		reason = ex.Err.Error()
	}
	reason = strings.Join(strings.Fields(reason), " ")
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return reason
}

// statusClass folds failed:<reason> into one label value.
func statusClass(status string) string {
	if strings.HasPrefix(status, "failed:") {
		return "failed"
	}
	return status
}
