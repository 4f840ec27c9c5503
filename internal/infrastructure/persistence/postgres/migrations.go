package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/postgres/migrations"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

const (
	migrationTable = "schema_migrations"

	// migrationLockID keys the advisory lock held while migrating, so
	// replicas starting together apply each migration once.
	migrationLockID int64 = 0x5348_5244_4d49_4752

	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
)

// Migration is one embedded schema migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	loadErr    error
}

// NewMigrator creates a migrator over the embedded migration files.
func NewMigrator(conn *Connection) *Migrator {
	migs, err := LoadMigrations(migrations.FS)
	return &Migrator{conn: conn, migrations: migs, loadErr: err}
}

// LoadMigrations reads NNN_name.sql files from fsys in version order.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: bad migration file name %q", ErrMigrationFailed, e.Name())
		}
		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		up, down := splitMigration(string(content))
		out = append(out, Migration{Version: version, Name: name, UpSQL: up, DownSQL: down})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("%w: duplicate version %d", ErrMigrationFailed, out[i].Version)
		}
	}
	return out, nil
}

// splitMigration returns the Up and Down sections. A file without markers
// is Up only.
func splitMigration(content string) (up, down string) {
	before, after, found := strings.Cut(content, markerDown)
	if !found {
		after = ""
	}
	if _, rest, ok := strings.Cut(before, markerUp); ok {
		before = rest
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies pending migrations and returns how many were applied.
// Each migration runs in its own transaction under the advisory lock.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		applied := false
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
				return err
			}
			done, err := appliedVersions(ctx, tx)
			if err != nil {
				return err
			}
			if _, ok := done[mig.Version]; ok {
				return nil
			}
			if mig.UpSQL == "" {
				return fmt.Errorf("missing up SQL")
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `INSERT INTO `+migrationTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			applied = err == nil
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		if applied {
			count++
		}
	}
	return count, nil
}

// Rollback reverts the last applied migration and returns its version,
// or 0 when nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	var reverted int
	err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}
		var last int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+migrationTable).Scan(&last); err != nil {
			return err
		}
		if last == 0 {
			return nil
		}

		var mig *Migration
		for i := range m.migrations {
			if m.migrations[i].Version == last {
				mig = &m.migrations[i]
			}
		}
		if mig == nil || mig.DownSQL == "" {
			return fmt.Errorf("missing down SQL for migration %d", last)
		}

		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, last); err != nil {
			return err
		}
		reverted = last
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: rollback: %v", ErrMigrationFailed, err)
	}
	return reverted, nil
}

// Status lists the embedded migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := appliedVersions(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}
