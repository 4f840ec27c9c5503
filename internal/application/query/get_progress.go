// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает запись прогресса вместе с выведенным состоянием каждого модуля.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса.
type GetProgressQuery struct {
	Authority progress.Authority
}

// ProgressDTO - запись прогресса для внешних потребителей.
type ProgressDTO struct {
	Authority           string `json:"authority"`
	Address             string `json:"address"`
	ChallengesCompleted uint16 `json:"challenges_completed"`
	ModulesCompleted    uint8  `json:"modules_completed"`

	// Списки для удобства клиентов; битсеты выше - источник истины.
	CompletedChallenges []uint8 `json:"completed_challenges"`
	CompletedModules    []uint8 `json:"completed_modules"`

	Modules []ModuleDTO `json:"modules"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModuleDTO - состояние одного модуля.
type ModuleDTO struct {
	ID              uint8                `json:"id"`
	State           progress.ModuleState `json:"state"`
	ChallengesDone  int                  `json:"challenges_done"`
	ChallengesTotal int                  `json:"challenges_total"`
	Credential      *CredentialDTO       `json:"credential,omitempty"`
}

// CredentialDTO - выпущенный credential модуля.
type CredentialDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Symbol    string    `json:"symbol"`
	URI       string    `json:"uri"`
	Mint      string    `json:"mint"`
	Signature string    `json:"signature,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// NewCredentialDTO преобразует выпуск в DTO.
func NewCredentialDTO(c *credential.IssuedCredential) *CredentialDTO {
	return &CredentialDTO{
		ID:        c.ID,
		Title:     c.Metadata.Title,
		Symbol:    c.Metadata.Symbol,
		URI:       c.Metadata.URI,
		Mint:      c.Mint,
		Signature: c.Signature,
		IssuedAt:  c.IssuedAt,
	}
}

// GetProgressHandler обрабатывает GetProgressQuery.
type GetProgressHandler struct {
	store  progress.Store
	ledger credential.Ledger
}

// NewGetProgressHandler создаёт обработчик. ledger может быть nil:
// тогда состояние credential_issued не выводится.
func NewGetProgressHandler(store progress.Store, ledger credential.Ledger) *GetProgressHandler {
	return &GetProgressHandler{store: store, ledger: ledger}
}

// Handle выполняет запрос. Чтение открыто: записи прогресса публичны.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	rec, err := h.store.Get(ctx, q.Authority)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	issued := make(map[progress.ModuleID]*credential.IssuedCredential)
	if h.ledger != nil {
		creds, err := h.ledger.ListByAuthority(ctx, q.Authority)
		if err != nil {
			return nil, fmt.Errorf("get progress: list credentials: %w", err)
		}
		for _, c := range creds {
			issued[c.Module] = c
		}
	}

	for m := range issued {
		if err := checkIssued(rec, m); err != nil {
			return nil, fmt.Errorf("get progress: %w", err)
		}
	}

	return NewProgressDTO(rec, issued), nil
}

// checkIssued сверяет запись с журналом выпусков. Credential выдаётся
// только закрытому модулю, а состояние назад не откатывается, поэтому
// запись с выпуском по незакрытому модулю противоречива.
func checkIssued(rec progress.Record, m progress.ModuleID) error {
	state := rec.StateOf(m, true)
	if state.Rank() < progress.ModuleComplete.Rank() {
		return fmt.Errorf("module %d credentialed in state %s: %w", m, state, progress.ErrCorruptRecord)
	}
	return nil
}

// NewProgressDTO собирает DTO из записи и выпусков.
func NewProgressDTO(rec progress.Record, issued map[progress.ModuleID]*credential.IssuedCredential) *ProgressDTO {
	dto := &ProgressDTO{
		Authority:           rec.Authority.String(),
		Address:             rec.Address().String(),
		ChallengesCompleted: rec.ChallengesCompleted,
		ModulesCompleted:    rec.ModulesCompleted,
		CompletedChallenges: make([]uint8, 0, progress.ChallengeCount),
		CompletedModules:    make([]uint8, 0, progress.ModuleCount),
		Modules:             make([]ModuleDTO, 0, progress.ModuleCount),
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}

	for _, c := range rec.CompletedChallenges() {
		dto.CompletedChallenges = append(dto.CompletedChallenges, uint8(c))
	}
	for _, m := range rec.CompletedModules() {
		dto.CompletedModules = append(dto.CompletedModules, uint8(m))
	}

	for m := progress.ModuleID(0); m < progress.ModuleCount; m++ {
		cred := issued[m]
		md := ModuleDTO{
			ID:              uint8(m),
			State:           rec.StateOf(m, cred != nil),
			ChallengesDone:  rec.ChallengesDone(m),
			ChallengesTotal: progress.ChallengesPerModule,
		}
		if cred != nil {
			md.Credential = NewCredentialDTO(cred)
		}
		dto.Modules = append(dto.Modules, md)
	}
	return dto
}
