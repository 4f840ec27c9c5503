package jobs

import (
	"context"

	"github.com/alem-hub/shadow-ranch/internal/infrastructure/external/tokenmeta"
	"github.com/alem-hub/shadow-ranch/pkg/circuitbreaker"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER WATCH JOB
// ══════════════════════════════════════════════════════════════════════════════

// StatusSource reports the state of the token-metadata client.
type StatusSource interface {
	Status() tokenmeta.ClientStatus
}

// BreakerWatchJob warns while the token-metadata circuit breaker is not closed.
// Minting is unavailable in that state even though the API itself is up.
type BreakerWatchJob struct {
	source StatusSource
	log    *logger.Logger
}

// NewBreakerWatchJob creates a new BreakerWatchJob.
func NewBreakerWatchJob(source StatusSource, log *logger.Logger) *BreakerWatchJob {
	if log == nil {
		log = logger.Nop()
	}
	return &BreakerWatchJob{source: source, log: log}
}

// Name returns the job name.
func (j *BreakerWatchJob) Name() string { return "breaker_watch" }

// Run checks the breaker once.
func (j *BreakerWatchJob) Run(ctx context.Context) error {
	status := j.source.Status()
	if status.BreakerState == circuitbreaker.StateClosed {
		return nil
	}
	j.log.WarnContext(ctx, "token-metadata circuit breaker is not closed",
		logger.String("state", status.BreakerState.String()),
		logger.Int("consecutive_failures", status.Breaker.ConsecutiveFailures),
		logger.Int("total_failures", status.Breaker.TotalFailures),
	)
	return nil
}
