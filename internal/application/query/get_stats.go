package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Сводка по хранилищу для административных команд.
// ══════════════════════════════════════════════════════════════════════════════

// StatsDTO - сводная статистика.
type StatsDTO struct {
	Records int `json:"records"`
	// ModulesCompleted[m] - число записей с завершённым модулем m.
	ModulesCompleted []int `json:"modules_completed"`
	// CompletionRate[m] - доля таких записей, 0..1.
	CompletionRate []float64  `json:"completion_rate"`
	LastUpdatedAt  *time.Time `json:"last_updated_at,omitempty"`
}

// GetStatsHandler читает статистику хранилища.
type GetStatsHandler struct {
	reader progress.StatsReader
}

// NewGetStatsHandler создаёт обработчик.
func NewGetStatsHandler(reader progress.StatsReader) *GetStatsHandler {
	return &GetStatsHandler{reader: reader}
}

// Handle выполняет запрос.
func (h *GetStatsHandler) Handle(ctx context.Context) (*StatsDTO, error) {
	s, err := h.reader.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	dto := &StatsDTO{
		Records:          s.Records,
		ModulesCompleted: make([]int, progress.ModuleCount),
		CompletionRate:   make([]float64, progress.ModuleCount),
	}
	for m, n := range s.ModulesCompleted {
		dto.ModulesCompleted[m] = n
		if s.Records > 0 {
			dto.CompletionRate[m] = float64(n) / float64(s.Records)
		}
	}
	if !s.LastUpdatedAt.IsZero() {
		t := s.LastUpdatedAt
		dto.LastUpdatedAt = &t
	}
	return dto, nil
}
