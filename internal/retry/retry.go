// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter adds up to this much random delay to computed backoffs. Hints
	// from the server are used as-is.
	Jitter time.Duration

	// Retryable decides whether an error is worth another attempt. It is not
	// consulted once the run context is done or for Permanent errors. Nil
	// retries everything except context.Canceled.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is five attempts with delays of 1s, 2s, 4s and 8s, never
// waiting more than 20s even when the server asks for longer.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    20 * time.Second,
	}
}

// Hinter is implemented by errors that carry a server-suggested wait, such as
// an HTTP Retry-After header.
type Hinter interface {
	RetryAfter() time.Duration
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. op receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(ctx, err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		var hint time.Duration
		var h Hinter
		if errors.As(err, &h) {
			hint = h.RetryAfter()
		}
		if err := p.Sleep(ctx, p.Delay(attempt, hint)); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// Delay returns the wait after the given failed attempt. A positive hint
// replaces the computed backoff; both are capped at MaxDelay.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	p = p.withDefaults()
	if hint > 0 {
		return min(hint, p.MaxDelay)
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return min(d, p.MaxDelay)
}

// retryable stops on the run's own cancellation only. A deadline reported by
// op itself, such as a per-request timeout, goes to Retryable.
func (p Policy) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled)
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
