package commands

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every pending schema migration.

With --down the most recently applied migration is reverted instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, _, err := openBackend(ctx, false)
			if err != nil {
				return err
			}
			defer backend.Close()

			out := cmd.OutOrStdout()
			if down {
				name, err := backend.Rollback(ctx)
				if err != nil {
					return printError("Rollback failed", err.Error(), nil)
				}
				if name == "" {
					printWarning(out, "no applied migrations to revert")
					return nil
				}
				printSuccess(out, "reverted migration %s", name)
				return nil
			}

			n, err := backend.Migrate(ctx)
			if err != nil {
				return printError("Migration failed", err.Error(), nil)
			}
			if n == 0 {
				printSuccess(out, "schema is up to date")
				return nil
			}
			printSuccess(out, "applied %d migration(s)", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "revert the last applied migration")
	return cmd
}
