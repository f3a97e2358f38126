package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mergewarden/mergewarden/internal/server"
	"github.com/mergewarden/mergewarden/internal/store"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Manage tracked pull requests",
	Long: `List, track, and untrack pull requests watched by the daemon. Tracked
PRs are re-evaluated on every poll cycle and on incoming host events.`,
}

func init() {
	prCmd.AddCommand(prListCmd)
	prCmd.AddCommand(prTrackCmd)
	prCmd.AddCommand(prUntrackCmd)
	rootCmd.AddCommand(prCmd)
}

var prListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		prs, err := server.ListTracked()
		if err != nil {
			return err
		}
		if len(prs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no tracked PRs")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PR\tSTATUS\tLAST ACTION\tREASON\tCHECKED")
		for _, pr := range prs {
			checked := "never"
			if t := store.ParseTime(pr.LastChecked); !t.IsZero() {
				checked = time.Since(t).Round(time.Second).String() + " ago"
			}
			fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\n",
				pr.Number, pr.Status, pr.LastAction, pr.LastReason, checked)
		}
		return tw.Flush()
	},
}

var prTrackCmd = &cobra.Command{
	Use:   "track <pr-number>",
	Short: "Start watching a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid PR number %q", args[0])
		}

		now := store.FormatTime(time.Now())
		pr := &server.TrackedPR{
			Number:      number,
			Repo:        appConfig.Host.Owner + "/" + appConfig.Host.Repo,
			Status:      "watching",
			Created:     now,
			LastChecked: now,
		}
		if err := server.SaveTracked(pr); err != nil {
			return fmt.Errorf("tracking PR %d: %w", number, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tracking PR #%d\n", number)

		notifyDaemon(cmd.OutOrStdout())
		return nil
	},
}

var prUntrackCmd = &cobra.Command{
	Use:   "untrack <pr-number>",
	Short: "Stop watching a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid PR number %q", args[0])
		}
		if err := server.DeleteTracked(number); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "untracked PR #%d\n", number)
		return nil
	},
}

// notifyDaemon sends a POST /poll to the running daemon to trigger an
// immediate poll cycle. Failures are non-fatal; the daemon picks up
// changes on the next regular cycle.
func notifyDaemon(w io.Writer) {
	port := 4180
	if appConfig != nil && appConfig.Server.Port > 0 {
		port = appConfig.Server.Port
	}
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/poll", port), "application/json", nil)
	if err != nil {
		slog.Debug("could not notify daemon for immediate poll", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		fmt.Fprintln(w, "daemon notified, immediate poll triggered")
	}
}
