package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

const (
	markerUp   = "-- +migrate Up"
	markerDown = "-- +migrate Down"
)

// MigrationStatus describes one embedded migration.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

type migrationFile struct {
	name string
	up   string
	down string
}

func loadMigrations(migrationFS fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		up, down := splitMigration(string(content))
		files = append(files, migrationFile{name: entry.Name(), up: up, down: down})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	return files, nil
}

// splitMigration returns the SQL of the Up and Down sections.
// A file without markers is treated as Up only.
func splitMigration(content string) (up, down string) {
	upIdx := strings.Index(content, markerUp)
	downIdx := strings.Index(content, markerDown)

	switch {
	case upIdx == -1 && downIdx == -1:
		return content, ""
	case downIdx == -1:
		return content[upIdx+len(markerUp):], ""
	case upIdx == -1:
		return content[:downIdx], content[downIdx+len(markerDown):]
	default:
		return content[upIdx+len(markerUp) : downIdx], content[downIdx+len(markerDown):]
	}
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`, migrationTable))
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, applied_at FROM "+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   int64
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[name] = time.UnixMilli(at).UTC()
	}
	return applied, rows.Err()
}

// applyMigrations executes pending migrations, each in its own transaction,
// and returns how many were applied.
func applyMigrations(ctx context.Context, db *sql.DB, migrationFS fs.FS) (int, error) {
	files, err := loadMigrations(migrationFS)
	if err != nil {
		return 0, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		if _, ok := applied[file.name]; ok || strings.TrimSpace(file.up) == "" {
			continue
		}

		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, file.up); err != nil {
				return fmt.Errorf("exec migration %s: %w", file.name, err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
				file.name, time.Now().UTC().UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("record migration %s: %w", file.name, err)
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// rollbackMigration reverts the most recently applied migration.
// Returns its name, or "" when nothing was applied.
func rollbackMigration(ctx context.Context, db *sql.DB, migrationFS fs.FS) (string, error) {
	files, err := loadMigrations(migrationFS)
	if err != nil {
		return "", err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return "", err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return "", err
	}

	for i := len(files) - 1; i >= 0; i-- {
		file := files[i]
		if _, ok := applied[file.name]; !ok {
			continue
		}
		if strings.TrimSpace(file.down) == "" {
			return "", fmt.Errorf("migration %s has no down section", file.name)
		}

		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, file.down); err != nil {
				return fmt.Errorf("rollback migration %s: %w", file.name, err)
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM "+migrationTable+" WHERE name = ?", file.name)
			return err
		})
		if err != nil {
			return "", err
		}
		return file.name, nil
	}

	return "", nil
}

func migrationStatus(ctx context.Context, db *sql.DB, migrationFS fs.FS) ([]MigrationStatus, error) {
	files, err := loadMigrations(migrationFS)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, file := range files {
		at, ok := applied[file.name]
		out = append(out, MigrationStatus{Name: file.name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// inTx runs fn in a transaction. The DSN opens every transaction with
// BEGIN IMMEDIATE, so the write lock is taken before fn reads anything.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
