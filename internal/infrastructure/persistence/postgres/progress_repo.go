package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Store and progress.StatsReader for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var (
	_ progress.Store       = (*ProgressRepository)(nil)
	_ progress.StatsReader = (*ProgressRepository)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new record. An existing row for the authority is left
// untouched and progress.ErrAlreadyExists is returned.
func (r *ProgressRepository) Create(ctx context.Context, rec progress.Record) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO progress_records (
			authority, address, data, challenges_completed, modules_completed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (authority) DO NOTHING
	`

	address := rec.Address()
	result, err := r.conn.Exec(ctx, query, recordArgs(rec, address[:])...)
	if err != nil {
		return fmt.Errorf("failed to create progress record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return progress.ErrAlreadyExists
	}

	return nil
}

// Get returns the record for authority.
func (r *ProgressRepository) Get(ctx context.Context, authority progress.Authority) (progress.Record, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	row := r.conn.QueryRow(ctx, `SELECT data FROM progress_records WHERE authority = $1`, authority[:])
	return scanRecord(row)
}

// Update loads the record under a row lock, applies fn and writes the result
// in the same transaction. Concurrent updates of one record are serialized by
// SELECT ... FOR UPDATE.
func (r *ProgressRepository) Update(ctx context.Context, authority progress.Authority, fn progress.UpdateFunc) (progress.Record, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var updated progress.Record
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT data FROM progress_records WHERE authority = $1 FOR UPDATE`, authority[:])
		current, err := scanRecord(row)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next.Authority != current.Authority {
			return fmt.Errorf("progress record authority cannot change: %w", progress.ErrCorruptRecord)
		}

		if next != current {
			query := `
				UPDATE progress_records SET
					data = $1,
					challenges_completed = $2,
					modules_completed = $3,
					updated_at = $4
				WHERE authority = $5
			`
			_, err = tx.Exec(ctx, query,
				progress.EncodeRecord(next),
				int32(next.ChallengesCompleted),
				int16(next.ModulesCompleted),
				next.UpdatedAt,
				authority[:],
			)
			if err != nil {
				return fmt.Errorf("failed to update progress record: %w", err)
			}
		}

		updated = next
		return nil
	})
	if err != nil {
		return progress.Record{}, err
	}

	return updated, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Statistics
// ─────────────────────────────────────────────────────────────────────────────

// Stats returns aggregate counters over all records.
func (r *ProgressRepository) Stats(ctx context.Context) (progress.Stats, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE modules_completed & 1 <> 0),
			COUNT(*) FILTER (WHERE modules_completed & 2 <> 0),
			COUNT(*) FILTER (WHERE modules_completed & 4 <> 0),
			COUNT(*) FILTER (WHERE modules_completed & 8 <> 0),
			MAX(updated_at)
		FROM progress_records
	`

	var (
		stats   progress.Stats
		counts  [progress.ModuleCount]int64
		total   int64
		updated *time.Time
	)
	err := r.conn.QueryRow(ctx, query).Scan(&total, &counts[0], &counts[1], &counts[2], &counts[3], &updated)
	if err != nil {
		return stats, fmt.Errorf("failed to query progress stats: %w", err)
	}

	stats.Records = int(total)
	for i, c := range counts {
		stats.ModulesCompleted[i] = int(c)
	}
	if updated != nil {
		stats.LastUpdatedAt = updated.UTC()
	}

	return stats, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func recordArgs(rec progress.Record, address []byte) []any {
	return []any{
		rec.Authority[:],
		address,
		progress.EncodeRecord(rec),
		int32(rec.ChallengesCompleted),
		int16(rec.ModulesCompleted),
		rec.CreatedAt,
		rec.UpdatedAt,
	}
}

func scanRecord(row pgx.Row) (progress.Record, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if IsNoRows(err) {
			return progress.Record{}, progress.ErrNotFound
		}
		return progress.Record{}, fmt.Errorf("failed to scan progress record: %w", err)
	}

	return progress.DecodeRecord(data)
}
