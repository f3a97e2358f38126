package host

import "strings"

// MergeabilityState is the normalized classification of whether a pull
// request can be merged without conflict. It is computed fresh each cycle:
// it can change without any event firing, e.g. when a different PR merges
// into the base.
type MergeabilityState string

const (
	MergeabilityClean       MergeabilityState = "clean"
	MergeabilityConflicting MergeabilityState = "conflicting"
	MergeabilityDirty       MergeabilityState = "dirty"
	MergeabilityBlocked     MergeabilityState = "blocked"
	MergeabilityBehind      MergeabilityState = "behind"
	MergeabilityUnknown     MergeabilityState = "unknown"
)

// Mergeability normalizes the host's asynchronously computed mergeable
// flag and state string. Any combination not recognized maps to unknown,
// which the decision engine treats as conflicting (fail closed).
func (pr *PullRequest) Mergeability() MergeabilityState {
	switch strings.ToUpper(pr.MergeStateStatus) {
	case "CONFLICTING":
		return MergeabilityConflicting
	case "DIRTY":
		return MergeabilityDirty
	case "BLOCKED":
		return MergeabilityBlocked
	case "BEHIND":
		return MergeabilityBehind
	case "CLEAN", "MERGEABLE", "HAS_HOOKS", "UNSTABLE":
		// UNSTABLE means a non-required check is failing; required checks
		// are gated separately by the aggregator, so the branch itself is
		// mergeable.
		return MergeabilityClean
	}

	// State string absent or unrecognized: fall back to the boolean flag
	// when the host has finished computing it.
	if pr.Mergeable != nil {
		if *pr.Mergeable {
			return MergeabilityClean
		}
		return MergeabilityConflicting
	}

	return MergeabilityUnknown
}
