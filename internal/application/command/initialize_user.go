package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INITIALIZE USER
// Создаёт запись прогресса для authority с нулевыми битсетами.
// ══════════════════════════════════════════════════════════════════════════════

// InitializeUserCommand - запрос на создание записи. Запись создаётся
// для самого запрашивающего.
type InitializeUserCommand struct {
	Requester progress.Authority
}

// InitializeUserHandler обрабатывает InitializeUserCommand.
type InitializeUserHandler struct {
	deps Deps
}

// NewInitializeUserHandler создаёт обработчик.
func NewInitializeUserHandler(deps Deps) *InitializeUserHandler {
	return &InitializeUserHandler{deps: deps.withDefaults()}
}

// Handle создаёт запись. Повторный вызов возвращает progress.ErrAlreadyExists,
// существующая запись не меняется.
func (h *InitializeUserHandler) Handle(ctx context.Context, cmd InitializeUserCommand) (rec progress.Record, err error) {
	ctx, span := startSpan(ctx, "InitializeUser", cmd.Requester, cmd.Requester)
	defer func() { endSpan(span, err) }()

	if cmd.Requester.IsZero() {
		return progress.Record{}, progress.ErrUnauthorized
	}

	rec = progress.Create(cmd.Requester, h.deps.Clock.Now())
	if err := h.deps.Store.Create(ctx, rec); err != nil {
		return progress.Record{}, fmt.Errorf("initialize user: %w", err)
	}

	h.deps.Logger.InfoContext(ctx, "progress record initialized",
		logger.Authority(rec.Authority),
		logger.String("address", rec.Address().String()),
	)
	h.deps.publish(ctx, shared.NewUserInitializedEvent(
		rec.Authority.String(), rec.Address().String(), rec.CreatedAt,
	))
	return rec, nil
}
