package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestMergeabilityFromStateString(t *testing.T) {
	tests := []struct {
		state string
		want  MergeabilityState
	}{
		{"CLEAN", MergeabilityClean},
		{"MERGEABLE", MergeabilityClean},
		{"clean", MergeabilityClean},
		{"UNSTABLE", MergeabilityClean},
		{"HAS_HOOKS", MergeabilityClean},
		{"CONFLICTING", MergeabilityConflicting},
		{"DIRTY", MergeabilityDirty},
		{"BLOCKED", MergeabilityBlocked},
		{"BEHIND", MergeabilityBehind},
	}
	for _, tt := range tests {
		pr := &PullRequest{MergeStateStatus: tt.state}
		assert.Equal(t, tt.want, pr.Mergeability(), "state %q", tt.state)
	}
}

func TestMergeabilityFallsBackToFlag(t *testing.T) {
	pr := &PullRequest{MergeStateStatus: "", Mergeable: boolPtr(true)}
	assert.Equal(t, MergeabilityClean, pr.Mergeability())

	pr = &PullRequest{MergeStateStatus: "SOMETHING_NEW", Mergeable: boolPtr(false)}
	assert.Equal(t, MergeabilityConflicting, pr.Mergeability())
}

func TestMergeabilityUnknownWhenHostStillComputing(t *testing.T) {
	pr := &PullRequest{MergeStateStatus: "", Mergeable: nil}
	assert.Equal(t, MergeabilityUnknown, pr.Mergeability())
}
