// Package retry runs calls to flaky collaborators (database, token-metadata
// service) under an exponential backoff. The loop itself is
// github.com/cenkalti/backoff/v5; this package decides which failures are
// worth another attempt and ships presets for each collaborator.
//
// By default nothing is retried unless the caller marks the error with
// Retryable. Permanent stops the loop immediately even when a custom
// predicate would accept the error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ═══════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ═══════════════════════════════════════════════════════════════════════════

type transientError struct{ cause error }

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}

// IsRetryable reports whether err, or anything it wraps, was marked Retryable.
func IsRetryable(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Permanent marks err as final; the loop returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// strip removes the outer classification wrappers so callers see the error
// their operation produced.
func strip(err error) error {
	for err != nil {
		switch e := err.(type) {
		case *transientError:
			err = e.cause
		case *backoff.PermanentError:
			err = e.Err
		default:
			return err
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// POLICY
// ═══════════════════════════════════════════════════════════════════════════

type policy struct {
	attempts   uint
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64
	accept     func(error) bool
	notify     func(attempt int, err error, delay time.Duration)
}

// Option tunes a Retrier. Out-of-range values are ignored.
type Option func(*policy)

// WithMaxAttempts caps the number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = uint(n)
		}
	}
}

// WithInitialDelay sets the wait before the second call.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps a single wait.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter sets the randomization factor in [0, 1].
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf replaces the Retryable check with fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.accept = fn }
}

// WithOnRetry registers fn to run before every wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.notify = fn }
}

// ═══════════════════════════════════════════════════════════════════════════
// RETRIER
// ═══════════════════════════════════════════════════════════════════════════

// Retrier is an immutable retry policy. It is safe for concurrent use.
type Retrier struct {
	p policy
}

// New builds a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
		accept:     IsRetryable,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.accept == nil {
		p.accept = IsRetryable
	}
	return &Retrier{p: p}
}

// Do calls op until it succeeds, fails with an error the policy rejects,
// runs out of attempts or ctx ends. The returned error carries no
// Retryable/Permanent wrapper.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := run(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func run[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.p.initial
	b.MaxInterval = r.p.ceiling
	b.Multiplier = r.p.multiplier
	b.RandomizationFactor = r.p.jitter

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.p.attempts),
		backoff.WithMaxElapsedTime(0),
	}

	calls := 0
	if r.p.notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			r.p.notify(calls, strip(err), next)
		}))
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		calls++
		v, err := op(ctx)
		switch {
		case err == nil, IsPermanent(err):
		case !r.p.accept(err):
			err = backoff.Permanent(err)
		}
		return v, err
	}, opts...)
	return v, strip(err)
}

// Do runs op under a one-off Retrier built from opts.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return run(ctx, New(opts...), op)
}

// ───────────────────────────────────────────────────────────────────────────
// Presets
// ───────────────────────────────────────────────────────────────────────────

// TokenMetadataRetrier is used for mint and metadata calls. Retrying a mint
// is only allowed because each request carries an idempotency key.
func TokenMetadataRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithJitter(0.2),
	)
}

// DatabaseRetrier covers the initial connect and ping at startup.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(5),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(2*time.Second),
		WithJitter(0.05),
	)
}
