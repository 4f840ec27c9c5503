package credential

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
)

// Ограничения сервиса метаданных, в байтах.
const (
	MaxTitleLength  = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)

// Параметры выпуска по умолчанию: без роялти, изменяемые метаданные,
// master edition с нулевым тиражом (уникальный экземпляр).
const (
	DefaultSellerFeeBasisPoints uint16 = 0
	DefaultMaxSupply            uint64 = 0
	DefaultIsMutable                   = true
	CreatorShareTotal           uint8  = 100
)

// ══════════════════════════════════════════════════════════════════════════════
// METADATA
// ══════════════════════════════════════════════════════════════════════════════

// Metadata - описательные данные credential.
type Metadata struct {
	Title  string `json:"title" yaml:"title"`
	Symbol string `json:"symbol" yaml:"symbol"`
	URI    string `json:"uri" yaml:"uri"`
}

// IsZero возвращает true, если ни одно поле не заполнено.
func (m Metadata) IsZero() bool {
	return m.Title == "" && m.Symbol == "" && m.URI == ""
}

// Normalize обрезает пробелы по краям.
func (m Metadata) Normalize() Metadata {
	return Metadata{
		Title:  strings.TrimSpace(m.Title),
		Symbol: strings.TrimSpace(m.Symbol),
		URI:    strings.TrimSpace(m.URI),
	}
}

// Validate проверяет метаданные по ограничениям сервиса.
func (m Metadata) Validate() error {
	check := func(field, value string, max int) error {
		switch {
		case value == "":
			return fmt.Errorf("%s is empty", field)
		case len(value) > max:
			return fmt.Errorf("%s is %d bytes, max %d", field, len(value), max)
		case !utf8.ValidString(value):
			return fmt.Errorf("%s is not valid UTF-8", field)
		}
		return nil
	}

	for _, err := range []error{
		check("title", m.Title, MaxTitleLength),
		check("symbol", m.Symbol, MaxSymbolLength),
		check("uri", m.URI, MaxURILength),
	} {
		if err != nil {
			return shared.WrapError(ErrInvalidMetadata, err)
		}
	}
	return nil
}

// Catalogue отдаёт метаданные по умолчанию для модуля.
type Catalogue interface {
	Metadata(module progress.ModuleID) (Metadata, bool)
}

// ══════════════════════════════════════════════════════════════════════════════
// MINT REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// Creator - автор токена в метаданных.
type Creator struct {
	Address  progress.Authority `json:"address"`
	Verified bool               `json:"verified"`
	Share    uint8              `json:"share"`
}

// MintRequest - единый идемпотентный запрос к сервису token-metadata:
// создать токен, прикрепить метаданные, пометить уникальным и передать
// одну единицу владельцу.
type MintRequest struct {
	IdempotencyKey       string
	Owner                progress.Authority
	Module               progress.ModuleID
	Metadata             Metadata
	SellerFeeBasisPoints uint16
	Creators             []Creator
	IsMutable            bool
	MaxSupply            uint64
}

// NewMintRequest собирает запрос с параметрами по умолчанию:
// единственный подтверждённый автор - сам владелец с долей 100.
func NewMintRequest(owner progress.Authority, module progress.ModuleID, md Metadata) MintRequest {
	return MintRequest{
		IdempotencyKey:       IdempotencyKey(owner, module),
		Owner:                owner,
		Module:               module,
		Metadata:             md,
		SellerFeeBasisPoints: DefaultSellerFeeBasisPoints,
		Creators: []Creator{
			{Address: owner, Verified: true, Share: CreatorShareTotal},
		},
		IsMutable: DefaultIsMutable,
		MaxSupply: DefaultMaxSupply,
	}
}

// IdempotencyKey строит ключ идемпотентности выпуска для пары (authority, модуль).
func IdempotencyKey(owner progress.Authority, module progress.ModuleID) string {
	return fmt.Sprintf("%s:%d", owner.String(), uint8(module))
}
