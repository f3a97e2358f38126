package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// commentMarker identifies comments posted by this tool so dedupe and
// ownership checks survive restarts.
const commentMarker = "<!-- mergewarden:decision -->"

// decisionComment renders the explanatory PR comment for an outcome.
// Wait outcomes produce no comment; they would only add noise while the
// situation resolves itself.
func decisionComment(out Outcome) string {
	switch out.Action {
	case ActionMerge:
		return fmt.Sprintf("%s\n:white_check_mark: **Ready to merge.** %s Auto-merge has been enabled.",
			commentMarker, out.Message)
	case ActionBlock:
		return fmt.Sprintf("%s\n:no_entry: **Not merging** (`%s`).\n\n%s",
			commentMarker, out.Reason, out.Message)
	default:
		return ""
	}
}

// postCommentDeduped posts body unless it matches the most recent marked
// comment already on the PR, so repeated cycles with the same outcome do
// not pile up duplicates.
func (e *Engine) postCommentDeduped(ctx context.Context, number int, body string) error {
	var last string
	err := e.withRetry(ctx, func() error {
		comments, err := e.backend.ListComments(ctx, number)
		if err != nil {
			return err
		}
		last = ""
		for _, c := range comments {
			if strings.Contains(c.Body, commentMarker) {
				last = c.Body
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("checking existing comments: %w", err)
	}

	if strings.TrimSpace(last) == strings.TrimSpace(body) {
		slog.Debug("skipping duplicate decision comment", "pr", number)
		return nil
	}
	if err := e.withRetry(ctx, func() error {
		return e.backend.PostComment(ctx, number, body)
	}); err != nil {
		return fmt.Errorf("posting decision comment: %w", err)
	}
	return nil
}
