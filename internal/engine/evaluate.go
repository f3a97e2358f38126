package engine

import (
	"fmt"
	"strings"

	"github.com/mergewarden/mergewarden/internal/checks"
	"github.com/mergewarden/mergewarden/internal/host"
	"github.com/mergewarden/mergewarden/internal/verdict"
)

// Evaluate folds the three gathered signals into a decision. It is pure so
// the policy can be tested without any host traffic.
//
// Ordering matters: a definite check failure blocks even while other
// checks are still pending, so it is tested before completeness. An
// approval never overrides a non-empty blocking list.
func Evaluate(ci checks.Result, rv *verdict.ReviewVerdict, m host.MergeabilityState) Outcome {
	if len(ci.Failed) > 0 {
		return Outcome{
			Action:  ActionBlock,
			Reason:  ReasonCIFailed,
			Message: fmt.Sprintf("required checks failed: %s", strings.Join(ci.Failed, ", ")),
		}
	}
	if !ci.Complete {
		msg := "waiting for required checks"
		if len(ci.Missing) > 0 {
			msg = fmt.Sprintf("waiting for checks: %s", strings.Join(ci.Missing, ", "))
		}
		return Outcome{Action: ActionWait, Reason: ReasonChecksTimeout, Message: msg}
	}

	if rv == nil {
		return Outcome{Action: ActionWait, Reason: ReasonAwaitingReview,
			Message: "no review verdict posted yet"}
	}
	if len(rv.BlockingIssues) > 0 {
		return Outcome{
			Action:  ActionBlock,
			Reason:  ReasonChangesRequested,
			Message: "blocking review issues:\n" + verdict.Summarize(rv.BlockingIssues),
		}
	}
	if !rv.Approved {
		return Outcome{Action: ActionBlock, Reason: ReasonChangesRequested,
			Message: "review verdict requested changes"}
	}

	switch m {
	case host.MergeabilityClean:
		return Outcome{Action: ActionMerge, Reason: ReasonReady, Message: "all gates passed"}
	case host.MergeabilityConflicting, host.MergeabilityDirty:
		return Outcome{Action: ActionBlock, Reason: ReasonMergeConflict,
			Message: "branch conflicts with the base and needs manual resolution"}
	case host.MergeabilityBlocked:
		return Outcome{Action: ActionWait, Reason: ReasonBranchBlocked,
			Message: "host branch protection is not yet satisfied"}
	case host.MergeabilityBehind:
		return Outcome{Action: ActionWait, Reason: ReasonBranchBehind,
			Message: "branch is behind the base and no workspace is configured to update it"}
	default:
		return Outcome{Action: ActionBlock, Reason: ReasonMergeConflict,
			Message: "mergeability could not be determined"}
	}
}
