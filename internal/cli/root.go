package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/logging"
)

var (
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "mergewarden",
		Short: "Merge-readiness gatekeeper for pull requests",
		Long: `Mergewarden watches open pull requests and decides when they are safe
to merge automatically, reconciling CI checks, bot review verdicts, and
host mergeability into a single merge/block/wait decision.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)

		cfg, err := config.Load()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			defaultCfg := config.DefaultConfig()
			cfg = &defaultCfg
		}
		appConfig = cfg
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
