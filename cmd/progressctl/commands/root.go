// Package commands implements the progressctl subcommands.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/infrastructure/persistence"
)

// NewRootCmd builds the progressctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "progressctl",
		Short: "progressctl - Shadow Ranch progress store administration",
		Long: `progressctl manages the Shadow Ranch progress database.

It applies and reverts schema migrations, prints store statistics,
shows individual progress records and issues request tokens for
calling the HTTP API during development.

Database settings are read from the same environment variables as the
API server (DB_DRIVER, DATABASE_URL, DB_SQLITE_PATH).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newStatusCmd(),
		newShowCmd(),
		newKeygenCmd(),
		newTokenCmd(),
	)
	return root
}

// SetVersionInfo sets the version string shown by --version.
func SetVersionInfo(root *cobra.Command, v, c, d string) {
	root.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// openBackend loads configuration from the environment and opens the store.
// Migrations run only when autoMigrate is set.
func openBackend(ctx context.Context, autoMigrate bool) (*persistence.Backend, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, printError(
			"Invalid configuration",
			err.Error(),
			[]string{"Check the DB_* environment variables."},
		)
	}

	cfg.Database.AutoMigrate = autoMigrate
	backend, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, printError(
			"Cannot open the progress database",
			err.Error(),
			[]string{
				"Verify DATABASE_URL when DB_DRIVER=postgres",
				"Verify DB_SQLITE_PATH is writable when DB_DRIVER=sqlite",
			},
		)
	}
	return backend, cfg, nil
}
