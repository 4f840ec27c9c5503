package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL ISSUANCE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// IssuanceRepository implements credential.Ledger for PostgreSQL.
type IssuanceRepository struct {
	conn *Connection
}

// NewIssuanceRepository creates a new IssuanceRepository.
func NewIssuanceRepository(conn *Connection) *IssuanceRepository {
	return &IssuanceRepository{conn: conn}
}

var _ credential.Ledger = (*IssuanceRepository)(nil)

const issuanceColumns = `
	id, idempotency_key, authority, module_id, title, symbol, uri,
	mint, metadata_address, master_edition, token_account, signature, issued_at
`

// Find returns the issuance for (authority, module).
func (r *IssuanceRepository) Find(ctx context.Context, authority progress.Authority, module progress.ModuleID) (*credential.IssuedCredential, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + issuanceColumns + ` FROM credential_issuances WHERE authority = $1 AND module_id = $2`

	cred, err := scanIssuance(r.conn.QueryRow(ctx, query, authority[:], int16(module)))
	if err != nil {
		if IsNoRows(err) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find credential issuance: %w", err)
	}

	return cred, nil
}

// Record stores an issuance. A second issuance for the same pair or the same
// idempotency key returns credential.ErrAlreadyRecorded.
func (r *IssuanceRepository) Record(ctx context.Context, cred *credential.IssuedCredential) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	id, err := issuanceID(cred.ID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credential_issuances (` + issuanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.conn.Exec(ctx, query,
		id,
		cred.IdempotencyKey,
		cred.Authority[:],
		int16(cred.Module),
		cred.Metadata.Title,
		cred.Metadata.Symbol,
		cred.Metadata.URI,
		cred.Mint,
		cred.MetadataAddr,
		cred.MasterEdition,
		cred.TokenAccount,
		cred.Signature,
		cred.IssuedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return credential.ErrAlreadyRecorded
		}
		return fmt.Errorf("failed to record credential issuance: %w", err)
	}

	cred.ID = id.String()
	return nil
}

// ListByAuthority returns all issuances of authority ordered by module.
func (r *IssuanceRepository) ListByAuthority(ctx context.Context, authority progress.Authority) ([]*credential.IssuedCredential, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + issuanceColumns + ` FROM credential_issuances WHERE authority = $1 ORDER BY module_id`

	rows, err := r.conn.Query(ctx, query, authority[:])
	if err != nil {
		return nil, fmt.Errorf("failed to list credential issuances: %w", err)
	}
	defer rows.Close()

	var out []*credential.IssuedCredential
	for rows.Next() {
		cred, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential issuance: %w", err)
		}
		out = append(out, cred)
	}

	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func issuanceID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid credential id %q: %w", id, err)
	}
	return parsed, nil
}

func scanIssuance(row pgx.Row) (*credential.IssuedCredential, error) {
	var (
		cred      credential.IssuedCredential
		id        uuid.UUID
		authority []byte
		module    int16
	)

	err := row.Scan(
		&id,
		&cred.IdempotencyKey,
		&authority,
		&module,
		&cred.Metadata.Title,
		&cred.Metadata.Symbol,
		&cred.Metadata.URI,
		&cred.Mint,
		&cred.MetadataAddr,
		&cred.MasterEdition,
		&cred.TokenAccount,
		&cred.Signature,
		&cred.IssuedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(authority) != progress.AuthoritySize {
		return nil, progress.ErrCorruptRecord
	}
	copy(cred.Authority[:], authority)
	cred.ID = id.String()
	cred.Module = progress.ModuleID(module)
	cred.IssuedAt = cred.IssuedAt.UTC()

	return &cred, nil
}
