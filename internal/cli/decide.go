package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mergewarden/mergewarden/internal/engine"
	"github.com/mergewarden/mergewarden/internal/host/github"
)

func init() {
	rootCmd.AddCommand(decideCmd)
}

var decideCmd = &cobra.Command{
	Use:   "decide <pr-number>",
	Short: "Run one decision cycle for a pull request",
	Long: `Evaluate a single pull request right now: wait for its required checks,
read the latest bot review verdict, probe mergeability, and act on the
result. Prints the decision and exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid PR number %q", args[0])
		}

		cfg := appConfig
		if cfg.Host.Owner == "" || cfg.Host.Repo == "" {
			return fmt.Errorf("host.owner and host.repo must be configured")
		}
		if cfg.Host.Token == "" {
			return fmt.Errorf("no host token configured; set host.token or GITHUB_TOKEN")
		}

		backend := github.NewBackend(cfg.Host.Owner, cfg.Host.Repo, cfg.Host.Token, cfg.Host.MergeMethod)
		eng := engine.New(backend, nil, *cfg)

		out, err := eng.Decide(cmd.Context(), number, "manual")
		if err != nil {
			return fmt.Errorf("decision cycle: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "action: %s\nreason: %s\n", out.Action, out.Reason)
		if out.Message != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "detail: %s\n", out.Message)
		}
		return nil
	},
}
