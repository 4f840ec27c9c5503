package credential

import (
	"context"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// ISSUER
// ══════════════════════════════════════════════════════════════════════════════

// Issuer проверяет предусловия выпуска и делегирует выпуск в Minter.
// Запись прогресса только читается.
type Issuer struct {
	minter Minter
}

// NewIssuer создаёт Issuer.
func NewIssuer(minter Minter) *Issuer {
	return &Issuer{minter: minter}
}

// Issue выпускает credential за модуль.
//
// Порядок проверок: ErrInvalidModuleID, ErrUnauthorized, ErrModuleNotComplete,
// затем ErrInvalidMetadata. После успешных проверок Minter вызывается ровно
// один раз; его ошибки возвращаются без изменений.
func (i *Issuer) Issue(
	ctx context.Context,
	rec progress.Record,
	requester progress.Authority,
	module progress.ModuleID,
	md Metadata,
) (*IssuedCredential, error) {
	if err := progress.RequireModuleComplete(rec, requester, module); err != nil {
		return nil, err
	}

	md = md.Normalize()
	if err := md.Validate(); err != nil {
		return nil, err
	}

	cred, err := i.minter.Mint(ctx, NewMintRequest(requester, module, md))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrMintFailed
	}
	return cred, nil
}
