// Package jobs contains the scheduled jobs of the API server.
package jobs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alem-hub/shadow-ranch/internal/application/query"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPORT JOB
// ══════════════════════════════════════════════════════════════════════════════

// StatsReportJob logs record counts and per-module completion of the store.
type StatsReportJob struct {
	stats *query.GetStatsHandler
	log   *logger.Logger
}

// NewStatsReportJob creates a new StatsReportJob.
func NewStatsReportJob(stats *query.GetStatsHandler, log *logger.Logger) *StatsReportJob {
	if log == nil {
		log = logger.Nop()
	}
	return &StatsReportJob{stats: stats, log: log}
}

// Name returns the job name.
func (j *StatsReportJob) Name() string { return "stats_report" }

// Run reads the stats and logs them.
func (j *StatsReportJob) Run(ctx context.Context) error {
	dto, err := j.stats.Handle(ctx)
	if err != nil {
		return fmt.Errorf("stats report: %w", err)
	}

	fields := []logger.Field{logger.Int("records", dto.Records)}
	for m, n := range dto.ModulesCompleted {
		fields = append(fields, logger.Int("module_"+strconv.Itoa(m)+"_completed", n))
	}
	if dto.LastUpdatedAt != nil {
		fields = append(fields, logger.Time("last_updated_at", *dto.LastUpdatedAt))
	}
	j.log.InfoContext(ctx, "progress store stats", fields...)
	return nil
}
