// Package sqlite provides the embedded SQLite progress store and issuance
// ledger used for local development, single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/sqlite/migrations"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

// Store persists progress records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ progress.Store       = (*Store)(nil)
	_ progress.StatsReader = (*Store)(nil)
)

// dsn opens every transaction with BEGIN IMMEDIATE so read-modify-write
// updates of one record are serialized.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + filepath.Clean(path) + "?" + q.Encode()
}

// Open opens a SQLite store at path. Pending migrations are applied when migrate is set.
func Open(ctx context.Context, path string, migrate bool) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection; BEGIN IMMEDIATE plus busy_timeout handles other processes.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{sqlDB: sqlDB}
	if migrate {
		if _, err := s.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Migrate applies pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return applyMigrations(ctx, s.sqlDB, migrations.FS)
}

// Rollback reverts the last applied migration and returns its name.
func (s *Store) Rollback(ctx context.Context) (string, error) {
	return rollbackMigration(ctx, s.sqlDB, migrations.FS)
}

// MigrationStatus lists embedded migrations and whether they are applied.
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	return migrationStatus(ctx, s.sqlDB, migrations.FS)
}

// Issuances returns the credential issuance ledger backed by the same database.
func (s *Store) Issuances() *IssuanceLedger {
	return &IssuanceLedger{sqlDB: s.sqlDB}
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.Store
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new record or returns progress.ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, rec progress.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	address := rec.Address()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO progress_records (
		   authority, address, data, challenges_completed, modules_completed, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (authority) DO NOTHING`,
		rec.Authority[:],
		address[:],
		progress.EncodeRecord(rec),
		int64(rec.ChallengesCompleted),
		int64(rec.ModulesCompleted),
		rec.CreatedAt.Unix(),
		rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create progress record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create progress record: %w", err)
	}
	if n == 0 {
		return progress.ErrAlreadyExists
	}
	return nil
}

// Get returns the record for authority.
func (s *Store) Get(ctx context.Context, authority progress.Authority) (progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return progress.Record{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM progress_records WHERE authority = ?`, authority[:])
	return scanRecord(row)
}

// Update applies fn to the stored record inside an immediate transaction.
func (s *Store) Update(ctx context.Context, authority progress.Authority, fn progress.UpdateFunc) (progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return progress.Record{}, err
	}

	var updated progress.Record
	err := inTx(ctx, s.sqlDB, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT data FROM progress_records WHERE authority = ?`, authority[:])
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
			_, err = tx.ExecContext(ctx,
				`UPDATE progress_records
				 SET data = ?, challenges_completed = ?, modules_completed = ?, updated_at = ?
				 WHERE authority = ?`,
				progress.EncodeRecord(next),
				int64(next.ChallengesCompleted),
				int64(next.ModulesCompleted),
				next.UpdatedAt.Unix(),
				authority[:],
			)
			if err != nil {
				return fmt.Errorf("update progress record: %w", err)
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

// Stats returns aggregate counters over all records.
func (s *Store) Stats(ctx context.Context) (progress.Stats, error) {
	var (
		stats   progress.Stats
		counts  [progress.ModuleCount]int64
		total   int64
		updated sql.NullInt64
	)

	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*),
		  COALESCE(SUM(CASE WHEN modules_completed & 1 <> 0 THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN modules_completed & 2 <> 0 THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN modules_completed & 4 <> 0 THEN 1 ELSE 0 END), 0),
		  COALESCE(SUM(CASE WHEN modules_completed & 8 <> 0 THEN 1 ELSE 0 END), 0),
		  MAX(updated_at)
		FROM progress_records`,
	).Scan(&total, &counts[0], &counts[1], &counts[2], &counts[3], &updated)
	if err != nil {
		return stats, fmt.Errorf("query progress stats: %w", err)
	}

	stats.Records = int(total)
	for i, c := range counts {
		stats.ModulesCompleted[i] = int(c)
	}
	if updated.Valid {
		stats.LastUpdatedAt = timeutil.FromUnix(updated.Int64)
	}
	return stats, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanRecord(row *sql.Row) (progress.Record, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progress.Record{}, progress.ErrNotFound
		}
		return progress.Record{}, fmt.Errorf("scan progress record: %w", err)
	}
	return progress.DecodeRecord(data)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
