package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// IssuanceLedger persists credential issuances in SQLite.
type IssuanceLedger struct {
	sqlDB *sql.DB
}

var _ credential.Ledger = (*IssuanceLedger)(nil)

const issuanceColumns = `id, idempotency_key, authority, module_id, title, symbol, uri,
  mint, metadata_address, master_edition, token_account, signature, issued_at`

// Find returns the issuance for (authority, module) or credential.ErrNotFound.
func (l *IssuanceLedger) Find(ctx context.Context, authority progress.Authority, module progress.ModuleID) (*credential.IssuedCredential, error) {
	row := l.sqlDB.QueryRowContext(ctx,
		`SELECT `+issuanceColumns+` FROM credential_issuances WHERE authority = ? AND module_id = ?`,
		authority[:], int64(module),
	)

	cred, err := scanIssuance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("find credential issuance: %w", err)
	}
	return cred, nil
}

// Record stores an issuance or returns credential.ErrAlreadyRecorded.
func (l *IssuanceLedger) Record(ctx context.Context, cred *credential.IssuedCredential) error {
	id := cred.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := l.sqlDB.ExecContext(ctx,
		`INSERT INTO credential_issuances (`+issuanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		cred.IdempotencyKey,
		cred.Authority[:],
		int64(cred.Module),
		cred.Metadata.Title,
		cred.Metadata.Symbol,
		cred.Metadata.URI,
		cred.Mint,
		cred.MetadataAddr,
		cred.MasterEdition,
		cred.TokenAccount,
		cred.Signature,
		cred.IssuedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return credential.ErrAlreadyRecorded
		}
		return fmt.Errorf("record credential issuance: %w", err)
	}

	cred.ID = id
	return nil
}

// ListByAuthority returns all issuances of authority ordered by module.
func (l *IssuanceLedger) ListByAuthority(ctx context.Context, authority progress.Authority) ([]*credential.IssuedCredential, error) {
	rows, err := l.sqlDB.QueryContext(ctx,
		`SELECT `+issuanceColumns+` FROM credential_issuances WHERE authority = ? ORDER BY module_id`,
		authority[:],
	)
	if err != nil {
		return nil, fmt.Errorf("list credential issuances: %w", err)
	}
	defer rows.Close()

	var out []*credential.IssuedCredential
	for rows.Next() {
		cred, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential issuance: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssuance(row rowScanner) (*credential.IssuedCredential, error) {
	var (
		cred      credential.IssuedCredential
		authority []byte
		module    int64
		issuedAt  int64
	)

	err := row.Scan(
		&cred.ID,
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
		&issuedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(authority) != progress.AuthoritySize {
		return nil, progress.ErrCorruptRecord
	}
	copy(cred.Authority[:], authority)
	cred.Module = progress.ModuleID(module)
	cred.IssuedAt = time.UnixMilli(issuedAt).UTC()

	return &cred, nil
}
