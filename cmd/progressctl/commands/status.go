package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/shadow-ranch/internal/application/query"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration state and store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, _, err := openBackend(ctx, false)
			if err != nil {
				return err
			}
			defer backend.Close()

			out := cmd.OutOrStdout()

			migs, err := backend.MigrationStatus(ctx)
			if err != nil {
				return printError("Cannot read migration status", err.Error(), nil)
			}

			printHeader(out, fmt.Sprintf("Migrations (%s)", backend.Driver))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			pending := 0
			for _, m := range migs {
				if m.Applied {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, green.Sprint("applied"), m.AppliedAt.Format(time.RFC3339))
				} else {
					pending++
					fmt.Fprintf(tw, "%s\t%s\t\n", m.Name, yellow.Sprint("pending"))
				}
			}
			_ = tw.Flush()
			fmt.Fprintln(out)

			if pending > 0 {
				printWarning(out, "%d pending migration(s), run `progressctl migrate`", pending)
				return nil
			}

			stats, err := query.NewGetStatsHandler(backend.Stats).Handle(ctx)
			if err != nil {
				return printError("Cannot read store statistics", err.Error(), nil)
			}

			printHeader(out, "Records")
			fmt.Fprintf(out, "total: %d\n", stats.Records)
			if stats.LastUpdatedAt != nil {
				fmt.Fprintf(out, "last update: %s\n", stats.LastUpdatedAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)

			printHeader(out, "Module completion")
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for m, n := range stats.ModulesCompleted {
				fmt.Fprintf(tw, "module %d\t%d\t%.1f%%\n", m, n, stats.CompletionRate[m]*100)
			}
			return tw.Flush()
		},
	}
}
