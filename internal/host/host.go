// Package host defines the interface boundary to the pull-request hosting
// platform. The decision engine talks only to the Backend interface; the
// GitHub implementation lives in host/github.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrTransient tags network, rate-limit, and server-side host failures.
// Callers retry these a bounded number of times, then degrade to a wait
// outcome rather than failing the cycle.
var ErrTransient = errors.New("transient host error")

// ErrNotFound is returned when the referenced pull request does not exist.
var ErrNotFound = errors.New("pull request not found")

// PullRequest is the host's view of a pull request, fetched once at the
// start of each decision cycle. HeadSHA changes on every push, so it is
// never reused across cycles.
type PullRequest struct {
	Number   int
	NodeID   string // GraphQL node ID, needed for the auto-merge mutation
	Title    string
	State    string // "open", "closed", "merged"
	Draft    bool
	HeadSHA  string
	HeadRef  string
	BaseRef  string
	Author   string
	URL      string
	BehindBy int // commits behind the base branch

	// Mergeable is the host's asynchronously computed conflict flag; nil
	// while the host has not finished computing it.
	Mergeable *bool
	// MergeStateStatus is the host's raw mergeability classification
	// (CLEAN, DIRTY, BLOCKED, BEHIND, UNSTABLE, UNKNOWN, ...).
	MergeStateStatus string
}

// CheckResult is one named CI signal for a commit, merged from the native
// check-runs API and the legacy combined-status API.
type CheckResult struct {
	Name       string
	Status     CheckStatus
	Conclusion CheckConclusion
}

// CheckStatus is the lifecycle state of a check.
type CheckStatus string

const (
	CheckPending   CheckStatus = "pending"
	CheckCompleted CheckStatus = "completed"
)

// CheckConclusion is the terminal result of a completed check.
type CheckConclusion string

const (
	ConclusionSuccess CheckConclusion = "success"
	ConclusionFailure CheckConclusion = "failure"
	ConclusionSkipped CheckConclusion = "skipped"
	ConclusionUnknown CheckConclusion = "unknown"
)

// Comment is an issue comment on a pull request.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// CommitState is the value of a commit status posted by the engine.
type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateFailure CommitState = "failure"
)

// Backend is the host platform dependency surface for one repository.
type Backend interface {
	// GetPullRequest fetches current pull request metadata by number.
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)

	// ListChecks returns the merged check-run and commit-status view for
	// a commit.
	ListChecks(ctx context.Context, sha string) ([]CheckResult, error)

	// ListComments returns all issue comments on a pull request, oldest
	// first.
	ListComments(ctx context.Context, number int) ([]Comment, error)

	// PostComment posts an issue comment on a pull request.
	PostComment(ctx context.Context, number int, body string) error

	// SetCommitStatus creates a commit status on the given commit.
	SetCommitStatus(ctx context.Context, sha string, state CommitState, description string) error

	// EnableAutoMerge enables auto-merge on the pull request so the host
	// merges it once its own requirements are satisfied.
	EnableAutoMerge(ctx context.Context, pr *PullRequest) error

	// CloneURL returns the authenticated git remote URL for the repository.
	CloneURL() string
}
