package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/shadow-ranch/internal/application/query"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

func newShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <authority>",
		Short: "Show the progress record of an authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := progress.ParseAuthority(args[0])
			if err != nil {
				return printError("Invalid authority", err.Error(),
					[]string{"Pass the base58 public key of the record owner."})
			}

			ctx := cmd.Context()
			backend, _, err := openBackend(ctx, false)
			if err != nil {
				return err
			}
			defer backend.Close()

			dto, err := query.NewGetProgressHandler(backend.Store, backend.Ledger).
				Handle(ctx, query.GetProgressQuery{Authority: owner})
			if err != nil {
				return printError("Cannot load progress record", err.Error(), nil)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(dto)
			}

			printHeader(out, "Progress "+dto.Authority)
			fmt.Fprintf(out, "address:    %s\n", dto.Address)
			fmt.Fprintf(out, "challenges: %d/%d\n", len(dto.CompletedChallenges), progress.ChallengeCount)
			fmt.Fprintf(out, "modules:    %d/%d\n", len(dto.CompletedModules), progress.ModuleCount)
			now := time.Now()
			fmt.Fprintf(out, "created:    %s (%s)\n", timeutil.FormatUTC(dto.CreatedAt), timeutil.FormatRelative(dto.CreatedAt, now))
			fmt.Fprintf(out, "updated:    %s (%s)\n", timeutil.FormatUTC(dto.UpdatedAt), timeutil.FormatRelative(dto.UpdatedAt, now))
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, m := range dto.Modules {
				fmt.Fprintf(tw, "module %d\t%d/%d\t%s\t%s\n",
					m.ID, m.ChallengesDone, m.ChallengesTotal, stateLabel(m.State), mintOf(m))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func stateLabel(s progress.ModuleState) string {
	switch s {
	case progress.ModuleCredentialIssued:
		return green.Sprint(string(s))
	case progress.ModuleComplete:
		return cyan.Sprint(string(s))
	case progress.ModuleNotStarted:
		return faint.Sprint(string(s))
	default:
		return yellow.Sprint(string(s))
	}
}

func mintOf(m query.ModuleDTO) string {
	if m.Credential == nil {
		return ""
	}
	return m.Credential.Mint
}
