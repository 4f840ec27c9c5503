package tokenmeta

import (
	"context"
	"sync"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
)

// MemoryMinter is an in-process stand-in for the service, for development
// and tests. Addresses are derived from the idempotency key, so repeating
// a request yields the same token.
type MemoryMinter struct {
	mu     sync.Mutex
	minted map[string]MintResponseDTO
}

var _ credential.Minter = (*MemoryMinter)(nil)

// NewMemoryMinter creates an empty MemoryMinter.
func NewMemoryMinter() *MemoryMinter {
	return &MemoryMinter{minted: make(map[string]MintResponseDTO)}
}

// Mint implements credential.Minter.
func (m *MemoryMinter) Mint(ctx context.Context, req credential.MintRequest) (*credential.IssuedCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	resp, ok := m.minted[req.IdempotencyKey]
	if !ok {
		resp = MintResponseDTO{
			Mint:          derive("mint", req.IdempotencyKey),
			Metadata:      derive("metadata", req.IdempotencyKey),
			MasterEdition: derive("edition", req.IdempotencyKey),
			TokenAccount:  derive("account", req.IdempotencyKey),
			Signature:     derive("signature", req.IdempotencyKey),
		}
		m.minted[req.IdempotencyKey] = resp
	}
	return issuedFromDTO(req, resp), nil
}

// Count returns the number of distinct tokens minted.
func (m *MemoryMinter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.minted)
}

func derive(kind, key string) string {
	sum := blake2b.Sum256([]byte(kind + ":" + key))
	return base58.Encode(sum[:])
}
