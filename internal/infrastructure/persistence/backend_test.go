package persistence

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "backend.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Equal(t, config.DriverSQLite, b.Driver)
	require.NoError(t, b.Ping(ctx))

	status, err := b.MigrationStatus(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, m := range status {
		assert.True(t, m.Applied, m.Name)
	}

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 42
	owner, err := progress.AuthorityFromPublicKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	require.NoError(t, b.Store.Create(ctx, progress.Create(owner, time.Unix(1_700_000_000, 0).UTC())))
	stats, err := b.Stats.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)

	creds, err := b.Ledger.ListByAuthority(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestOpen_SQLiteRollback(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "rollback.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	name, err := b.Rollback(ctx)
	require.NoError(t, err)
	assert.Empty(t, name, "nothing applied yet")

	n, err := b.Migrate(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	name, err = b.Rollback(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	status, err := b.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].Applied)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mongodb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongodb")
}
