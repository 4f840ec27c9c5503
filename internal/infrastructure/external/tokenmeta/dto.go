// Package tokenmeta implements the token-metadata service client.
// The service creates a unique token, attaches metadata, marks the token
// as a one-of-one edition and transfers a single unit to the owner, all
// inside one idempotency-keyed request.
package tokenmeta

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MINT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// MintRequestDTO is the body of POST /v1/mints.
type MintRequestDTO struct {
	// IdempotencyKey identifies the mint; repeats return the first result.
	IdempotencyKey string `json:"idempotency_key"`

	// Owner receives the single unit (base58).
	Owner string `json:"owner"`

	// Name, Symbol and URI form the on-chain metadata.
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`

	SellerFeeBasisPoints uint16       `json:"seller_fee_basis_points"`
	Creators             []CreatorDTO `json:"creators"`
	IsMutable            bool         `json:"is_mutable"`

	// MaxSupply of the master edition; 0 makes the token unique.
	MaxSupply uint64 `json:"max_supply"`
}

// CreatorDTO is a metadata creator entry.
type CreatorDTO struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
	Share    uint8  `json:"share"`
}

// MintResponseDTO is the successful response of POST /v1/mints.
type MintResponseDTO struct {
	Mint          string `json:"mint"`
	Metadata      string `json:"metadata"`
	MasterEdition string `json:"master_edition"`
	TokenAccount  string `json:"token_account"`
	Signature     string `json:"signature"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the service.
type APIErrorDTO struct {
	// Status is the HTTP status code (filled by the client).
	Status int `json:"-"`

	// Code is the error code
	Code string `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// RequestID is the ID of the failed request (for debugging)
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("token-metadata status %d: %s", e.Status, msg)
}

// Temporary reports whether the failure is on the server side.
func (e *APIErrorDTO) Temporary() bool {
	return e.Status >= 500
}

// RateLimitError is returned when the service answers 429.
type RateLimitError struct {
	// RetryAfter is the suggested time to wait before retrying
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return "token-metadata rate limit exceeded, retry after " + e.RetryAfter.String()
}
