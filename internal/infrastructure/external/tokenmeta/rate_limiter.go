package tokenmeta

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig sizes the client-side token bucket.
type RateLimiterConfig struct {
	// RequestsPerSecond is the refill rate of the bucket.
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	BurstSize int

	// WaitTimeout caps how long Allow blocks; zero waits for ctx only.
	WaitTimeout time.Duration

	// RetryAfter is the default pause when the service answers 429
	// without a Retry-After header.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults for the service.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 5,
		BurstSize:         10,
		WaitTimeout:       10 * time.Second,
		RetryAfter:        5 * time.Second,
	}
}

// ErrRateLimitWaitTimeout is returned when waiting for a token would exceed WaitTimeout.
var ErrRateLimitWaitTimeout = errors.New("tokenmeta: timeout waiting for rate limit")

// RateLimiter is a token bucket with a service-imposed pause after 429 responses.
type RateLimiter struct {
	limiter     *rate.Limiter
	waitTimeout time.Duration
	retryAfter  time.Duration

	mu          sync.Mutex
	pausedUntil time.Time
	hits        int
}

// NewRateLimiter builds the bucket from cfg. A non-positive rate disables
// limiting; a non-positive burst becomes 1.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:     rate.NewLimiter(limit, burst),
		waitTimeout: cfg.WaitTimeout,
		retryAfter:  cfg.RetryAfter,
	}
}

// Allow blocks until a request may proceed, the context is done or WaitTimeout passes.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	if rl.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.waitTimeout)
		defer cancel()
	}

	if pause := rl.pause(); pause > 0 {
		t := time.NewTimer(pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return rl.waitErr(ctx)
		case <-t.C:
		}
	}

	if err := rl.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return rl.waitErr(ctx)
		}
		// Wait fails without blocking when the deadline is too close.
		return ErrRateLimitWaitTimeout
	}
	return nil
}

func (rl *RateLimiter) waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrRateLimitWaitTimeout
	}
	return ctx.Err()
}

func (rl *RateLimiter) pause() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return time.Until(rl.pausedUntil)
}

// RecordRateLimitHit pauses all requests for retryAfter (or the configured default).
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = rl.retryAfter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.hits++
	if until := time.Now().Add(retryAfter); until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
}

// RateLimiterStatus is a snapshot of the limiter.
type RateLimiterStatus struct {
	Tokens      float64
	PausedUntil time.Time
	Hits        int
}

// Status returns the current limiter state.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStatus{
		Tokens:      rl.limiter.Tokens(),
		PausedUntil: rl.pausedUntil,
		Hits:        rl.hits,
	}
}
