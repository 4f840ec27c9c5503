package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE MODULE
// Закрывает модуль, когда пройдены все его челленджи.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteModuleCommand - запрос на закрытие модуля.
type CompleteModuleCommand struct {
	Owner     progress.Authority
	Requester progress.Authority
	ModuleID  progress.ModuleID
}

// CompleteModuleResult - результат команды.
type CompleteModuleResult struct {
	Record progress.Record
	Newly  bool
}

// CompleteModuleHandler обрабатывает CompleteModuleCommand.
type CompleteModuleHandler struct {
	deps Deps
}

// NewCompleteModuleHandler создаёт обработчик.
func NewCompleteModuleHandler(deps Deps) *CompleteModuleHandler {
	return &CompleteModuleHandler{deps: deps.withDefaults()}
}

// Handle выполняет команду. Если челленджи модуля пройдены не все,
// возвращается progress.ErrModuleNotComplete и запись не меняется.
func (h *CompleteModuleHandler) Handle(ctx context.Context, cmd CompleteModuleCommand) (res CompleteModuleResult, err error) {
	ctx, span := startSpan(ctx, "CompleteModule", cmd.Owner, cmd.Requester)
	defer func() { endSpan(span, err) }()

	if err := cmd.ModuleID.Validate(); err != nil {
		return res, err
	}

	var before uint8
	rec, err := h.deps.Store.Update(ctx, cmd.Owner, func(cur progress.Record) (progress.Record, error) {
		before = cur.ModulesCompleted
		return progress.CompleteModule(cur, cmd.Requester, cmd.ModuleID, h.deps.Clock.Now())
	})
	if err != nil {
		return res, fmt.Errorf("complete module: %w", err)
	}

	res = CompleteModuleResult{
		Record: rec,
		Newly:  before&cmd.ModuleID.Bit() == 0,
	}

	h.deps.Logger.InfoContext(ctx, "module completed",
		logger.Authority(rec.Authority),
		logger.ModuleID(uint8(cmd.ModuleID)),
		logger.Bool("newly", res.Newly),
	)
	h.deps.publish(ctx, shared.NewModuleCompletedEvent(
		rec.Authority.String(), int(cmd.ModuleID), rec.ModulesCompleted, res.Newly, rec.UpdatedAt,
	))
	return res, nil
}
