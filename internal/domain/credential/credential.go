package credential

import (
	"context"
	"time"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// IssuedCredential - результат выпуска credential.
type IssuedCredential struct {
	ID             string
	IdempotencyKey string
	Authority      progress.Authority
	Module         progress.ModuleID
	Metadata       Metadata

	// Адреса, которые вернул сервис token-metadata.
	Mint          string
	MetadataAddr  string
	MasterEdition string
	TokenAccount  string
	Signature     string

	IssuedAt time.Time

	// Replayed - credential уже был выпущен ранее и возвращён из журнала.
	Replayed bool
}

// Minter - порт внешнего сервиса token-metadata.
// Один вызов Mint - одна внешняя транзакция; повтор с тем же
// IdempotencyKey не должен выпускать второй токен.
type Minter interface {
	Mint(ctx context.Context, req MintRequest) (*IssuedCredential, error)
}

// MinterFunc адаптирует функцию к интерфейсу Minter.
type MinterFunc func(ctx context.Context, req MintRequest) (*IssuedCredential, error)

// Mint реализует Minter.
func (f MinterFunc) Mint(ctx context.Context, req MintRequest) (*IssuedCredential, error) {
	return f(ctx, req)
}

// Ledger - журнал выпущенных credential.
// Реализации находятся в infrastructure/persistence.
type Ledger interface {
	// Find возвращает выпущенный credential.
	// Возвращает ErrNotFound, если выпуска не было.
	Find(ctx context.Context, authority progress.Authority, module progress.ModuleID) (*IssuedCredential, error)

	// Record сохраняет выпуск.
	// Возвращает ErrAlreadyRecorded, если выпуск для пары уже записан.
	Record(ctx context.Context, cred *IssuedCredential) error

	// ListByAuthority возвращает все выпуски владельца по возрастанию модуля.
	ListByAuthority(ctx context.Context, authority progress.Authority) ([]*IssuedCredential, error)
}
