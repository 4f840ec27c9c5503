// Package persistence selects and opens the progress store configured for
// the process. Both the API server and the admin CLI go through Open so
// they see the same driver, pool settings and migrations.
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence/sqlite"
)

// Backend bundles the storage ports of one database.
type Backend struct {
	Driver string
	Store  progress.Store
	Stats  progress.StatsReader
	Ledger credential.Ledger

	ping     func(context.Context) error
	migrate  func(context.Context) (int, error)
	rollback func(context.Context) (string, error)
	status   func(context.Context) ([]MigrationInfo, error)
	close    func() error
}

// MigrationInfo describes one schema migration.
type MigrationInfo struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Open connects to the configured database. Pending migrations are applied
// when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	case config.DriverSQLite, "":
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Backend, error) {
	conn, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	migrator := postgres.NewMigrator(conn)
	if cfg.AutoMigrate {
		if _, err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo := postgres.NewProgressRepository(conn)
	return &Backend{
		Driver:  config.DriverPostgres,
		Store:   repo,
		Stats:   repo,
		Ledger:  postgres.NewIssuanceRepository(conn),
		ping:    conn.Ping,
		migrate: migrator.Migrate,
		rollback: func(ctx context.Context) (string, error) {
			v, err := migrator.Rollback(ctx)
			if err != nil || v == 0 {
				return "", err
			}
			return strconv.Itoa(v), nil
		},
		status: func(ctx context.Context) ([]MigrationInfo, error) {
			migs, err := migrator.Status(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]MigrationInfo, 0, len(migs))
			for _, m := range migs {
				out = append(out, MigrationInfo{
					Name:      fmt.Sprintf("%03d_%s", m.Version, m.Name),
					Applied:   m.IsApplied,
					AppliedAt: m.AppliedAt,
				})
			}
			return out, nil
		},
		close: func() error {
			conn.Close()
			return nil
		},
	}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig) (*Backend, error) {
	store, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Driver:   config.DriverSQLite,
		Store:    store,
		Stats:    store,
		Ledger:   store.Issuances(),
		ping:     store.Ping,
		migrate:  store.Migrate,
		rollback: store.Rollback,
		status: func(ctx context.Context) ([]MigrationInfo, error) {
			migs, err := store.MigrationStatus(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]MigrationInfo, 0, len(migs))
			for _, m := range migs {
				out = append(out, MigrationInfo{Name: m.Name, Applied: m.Applied, AppliedAt: m.AppliedAt})
			}
			return out, nil
		},
		close: store.Close,
	}, nil
}

// Ping checks database connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Migrate applies pending migrations and returns how many were applied.
func (b *Backend) Migrate(ctx context.Context) (int, error) {
	return b.migrate(ctx)
}

// Rollback reverts the last applied migration. An empty name means
// nothing was applied.
func (b *Backend) Rollback(ctx context.Context) (string, error) {
	return b.rollback(ctx)
}

// MigrationStatus lists known migrations.
func (b *Backend) MigrationStatus(ctx context.Context) ([]MigrationInfo, error) {
	return b.status(ctx)
}

// Close releases the database handle.
func (b *Backend) Close() error {
	return b.close()
}
