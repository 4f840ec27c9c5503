package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE CHALLENGE
// Отмечает челлендж пройденным. Повтор - успех без изменения битов.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteChallengeCommand - запрос на отметку челленджа.
type CompleteChallengeCommand struct {
	// Owner - authority записи, которую меняем.
	Owner progress.Authority
	// Requester - подтверждённая личность вызывающего.
	Requester   progress.Authority
	ChallengeID progress.ChallengeID
}

// CompleteChallengeResult - результат команды.
type CompleteChallengeResult struct {
	Record progress.Record
	// Newly - бит установлен этим вызовом.
	Newly bool
}

// CompleteChallengeHandler обрабатывает CompleteChallengeCommand.
type CompleteChallengeHandler struct {
	deps Deps
}

// NewCompleteChallengeHandler создаёт обработчик.
func NewCompleteChallengeHandler(deps Deps) *CompleteChallengeHandler {
	return &CompleteChallengeHandler{deps: deps.withDefaults()}
}

// Handle выполняет команду.
func (h *CompleteChallengeHandler) Handle(ctx context.Context, cmd CompleteChallengeCommand) (res CompleteChallengeResult, err error) {
	ctx, span := startSpan(ctx, "CompleteChallenge", cmd.Owner, cmd.Requester)
	defer func() { endSpan(span, err) }()

	// Диапазон проверяется до обращения к хранилищу.
	if err := cmd.ChallengeID.Validate(); err != nil {
		return res, err
	}

	var before uint16
	rec, err := h.deps.Store.Update(ctx, cmd.Owner, func(cur progress.Record) (progress.Record, error) {
		before = cur.ChallengesCompleted
		return progress.CompleteChallenge(cur, cmd.Requester, cmd.ChallengeID, h.deps.Clock.Now())
	})
	if err != nil {
		return res, fmt.Errorf("complete challenge: %w", err)
	}

	res = CompleteChallengeResult{
		Record: rec,
		Newly:  before&cmd.ChallengeID.Bit() == 0,
	}

	h.deps.Logger.InfoContext(ctx, "challenge completed",
		logger.Authority(rec.Authority),
		logger.ChallengeID(uint8(cmd.ChallengeID)),
		logger.Bool("newly", res.Newly),
	)
	h.deps.publish(ctx, shared.NewChallengeCompletedEvent(
		rec.Authority.String(), int(cmd.ChallengeID), rec.ChallengesCompleted, res.Newly, rec.UpdatedAt,
	))
	return res, nil
}
