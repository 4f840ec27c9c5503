package command

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MINT ACHIEVEMENT CREDENTIAL
// Выпускает credential за завершённый модуль. Запись только читается.
// ══════════════════════════════════════════════════════════════════════════════

// MintAchievementCredentialCommand - запрос на выпуск credential.
type MintAchievementCredentialCommand struct {
	Owner     progress.Authority
	Requester progress.Authority
	ModuleID  progress.ModuleID
	// Metadata - пустые метаданные заменяются значениями из каталога.
	Metadata credential.Metadata
}

// MintAchievementCredentialHandler обрабатывает MintAchievementCredentialCommand.
type MintAchievementCredentialHandler struct {
	deps      Deps
	issuer    *credential.Issuer
	catalogue credential.Catalogue
}

// NewMintAchievementCredentialHandler создаёт обработчик.
// catalogue может быть nil: тогда метаданные обязательны.
func NewMintAchievementCredentialHandler(deps Deps, issuer *credential.Issuer, catalogue credential.Catalogue) *MintAchievementCredentialHandler {
	return &MintAchievementCredentialHandler{
		deps:      deps.withDefaults(),
		issuer:    issuer,
		catalogue: catalogue,
	}
}

// Handle выполняет команду.
func (h *MintAchievementCredentialHandler) Handle(ctx context.Context, cmd MintAchievementCredentialCommand) (cred *credential.IssuedCredential, err error) {
	ctx, span := startSpan(ctx, "MintAchievementCredential", cmd.Owner, cmd.Requester)
	span.SetAttributes(attribute.Int("progress.module_id", int(cmd.ModuleID)))
	defer func() { endSpan(span, err) }()

	if err := cmd.ModuleID.Validate(); err != nil {
		return nil, err
	}

	rec, err := h.deps.Store.Get(ctx, cmd.Owner)
	if err != nil {
		return nil, fmt.Errorf("mint credential: %w", err)
	}

	md := cmd.Metadata
	if md.Normalize().IsZero() && h.catalogue != nil {
		if def, ok := h.catalogue.Metadata(cmd.ModuleID); ok {
			md = def
		}
	}

	cred, err = h.issuer.Issue(ctx, rec, cmd.Requester, cmd.ModuleID, md)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("credential.mint", cred.Mint),
		attribute.Bool("credential.replayed", cred.Replayed),
	)
	h.deps.Logger.InfoContext(ctx, "achievement credential issued",
		logger.Authority(rec.Authority),
		logger.ModuleID(uint8(cmd.ModuleID)),
		logger.Mint(cred.Mint),
		logger.Bool("replayed", cred.Replayed),
	)
	h.deps.publish(ctx, shared.NewCredentialIssuedEvent(
		rec.Authority.String(), int(cmd.ModuleID), cred.ID, cred.Mint, cred.Replayed, h.deps.Clock.Now(),
	))
	return cred, nil
}
