// Package engine runs the merge-readiness decision cycle: gather CI state,
// the bot review verdict, and host mergeability for one pull request, then
// act on the combined picture.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/mergewarden/mergewarden/internal/checks"
	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/gitops"
	"github.com/mergewarden/mergewarden/internal/host"
	"github.com/mergewarden/mergewarden/internal/runs"
	"github.com/mergewarden/mergewarden/internal/verdict"
)

// Action is what the engine decided to do with the pull request.
type Action string

const (
	ActionMerge Action = "merge"
	ActionBlock Action = "block"
	ActionWait  Action = "wait"
)

// ReasonCode explains an Outcome in machine-readable form.
type ReasonCode string

const (
	ReasonReady            ReasonCode = "ready"
	ReasonCIFailed         ReasonCode = "ci_failed"
	ReasonChecksTimeout    ReasonCode = "checks_timeout"
	ReasonChangesRequested ReasonCode = "changes_requested"
	ReasonAwaitingReview   ReasonCode = "awaiting_review"
	ReasonMergeConflict    ReasonCode = "merge_conflict"
	ReasonBranchBlocked    ReasonCode = "branch_blocked"
	ReasonBranchBehind     ReasonCode = "branch_behind"
	ReasonDuplicateRun     ReasonCode = "duplicate_run"
	ReasonSuperseded       ReasonCode = "superseded"
	ReasonPRClosed         ReasonCode = "pr_closed"
	ReasonPRDraft          ReasonCode = "pr_draft"
	ReasonHostUnavailable  ReasonCode = "host_unavailable"
)

// Outcome is the result of one decision cycle.
type Outcome struct {
	Action  Action
	Reason  ReasonCode
	Message string
	HeadSHA string
}

// Engine wires the backend, the check aggregator, the duplicate-run
// registry, and the local git workspace into one decision loop.
type Engine struct {
	backend  host.Backend
	agg      *checks.Aggregator
	registry *runs.Registry
	ws       *gitops.Workspace
	cfg      config.Config
}

// New builds an engine. registry and a workspace may be nil, in which case
// duplicate suppression and local branch updates are disabled.
func New(backend host.Backend, registry *runs.Registry, cfg config.Config) *Engine {
	e := &Engine{
		backend:  backend,
		registry: registry,
		cfg:      cfg,
		agg:      checks.NewAggregator(backend, cfg.Checks.ParsePollInterval(), cfg.Checks.ParseMaxWait()),
	}
	if cfg.Workspace.Dir != "" {
		e.ws = gitops.NewWorkspace(cfg.Workspace.Dir)
	}
	return e
}

// Decide runs one full cycle for the pull request. eventKind names the
// trigger for the run ledger. The returned error is non-nil only for host
// or infrastructure failures; policy results always come back as an
// Outcome.
func (e *Engine) Decide(ctx context.Context, number int, eventKind string) (Outcome, error) {
	pr, err := e.fetchPR(ctx, number)
	if err != nil {
		return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable}, err
	}

	if pr.State != "open" {
		return Outcome{Action: ActionWait, Reason: ReasonPRClosed, HeadSHA: pr.HeadSHA,
			Message: fmt.Sprintf("pull request is %s", pr.State)}, nil
	}
	if pr.Draft {
		return Outcome{Action: ActionWait, Reason: ReasonPRDraft, HeadSHA: pr.HeadSHA,
			Message: "pull request is a draft"}, nil
	}

	var runID int64
	if e.registry != nil {
		key := runs.TriggerKey(e.cfg.Host.Owner, e.cfg.Host.Repo, number, pr.HeadSHA)
		id, suppressed, reason, err := e.registry.Begin(ctx, runs.Identity{
			TriggerKey: key,
			EventKind:  eventKind,
		})
		if err != nil {
			return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable}, err
		}
		if suppressed {
			slog.Debug("cycle suppressed", "pr", number, "sha", pr.HeadSHA, "reason", reason)
			return Outcome{Action: ActionWait, Reason: ReasonDuplicateRun, HeadSHA: pr.HeadSHA, Message: reason}, nil
		}
		runID = id
	}

	out, err := e.decide(ctx, pr)
	if e.registry != nil {
		status := runs.StatusSuccess
		if err != nil {
			status = runs.StatusFailure
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := e.registry.Finish(fctx, runID, status); ferr != nil {
			slog.Warn("failed to close run record", "run", runID, "error", ferr)
		}
		cancel()
	}
	return out, err
}

func (e *Engine) decide(ctx context.Context, pr *host.PullRequest) (Outcome, error) {
	logger := slog.With("pr", pr.Number, "sha", shortSHA(pr.HeadSHA))

	// Bring a lagging branch up to date before waiting on checks, so CI
	// runs against the commit that would actually land.
	if pr.BehindBy > 0 && e.ws != nil {
		updated, out, err := e.reconcileBranch(ctx, pr)
		if err != nil || out != nil {
			if out != nil {
				return *out, err
			}
			return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable}, err
		}
		if updated {
			// The push moved the head; continue the cycle against the
			// fresh commit so checks and mergeability reflect it.
			logger.Info("branch updated with base, re-fetching")
			fresh, err := e.fetchPR(ctx, pr.Number)
			if err != nil {
				return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable}, err
			}
			pr = fresh
			logger = slog.With("pr", pr.Number, "sha", shortSHA(pr.HeadSHA))
		}
	}

	res, err := e.agg.Wait(ctx, pr.HeadSHA, e.cfg.Checks.Required)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{Action: ActionWait, Reason: ReasonSuperseded, HeadSHA: pr.HeadSHA,
				Message: "evaluation superseded by a newer event"}, nil
		}
		return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable, HeadSHA: pr.HeadSHA}, err
	}

	rv, err := e.latestVerdict(ctx, pr.Number)
	if err != nil {
		return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable, HeadSHA: pr.HeadSHA}, err
	}

	mergeability, err := e.probeMergeability(ctx, pr)
	if err != nil {
		return Outcome{Action: ActionWait, Reason: ReasonHostUnavailable, HeadSHA: pr.HeadSHA}, err
	}

	out := Evaluate(*res, rv, mergeability)
	out.HeadSHA = pr.HeadSHA
	logger.Info("decision", "action", out.Action, "reason", out.Reason)

	if err := e.act(ctx, pr, out); err != nil {
		return out, err
	}
	return out, nil
}

// reconcileBranch updates the head branch with the base via the local
// workspace. It returns updated=true when the head moved, a terminal
// Outcome when the update itself decides the cycle, or an error.
func (e *Engine) reconcileBranch(ctx context.Context, pr *host.PullRequest) (bool, *Outcome, error) {
	dir, err := e.ws.Ensure(ctx, e.backend.CloneURL(), pr.HeadRef)
	if err != nil {
		return false, nil, fmt.Errorf("preparing workspace: %w", err)
	}
	res, err := gitops.Reconcile(ctx, dir, pr.BaseRef, pr.HeadRef)
	if err != nil {
		return false, nil, fmt.Errorf("updating branch: %w", err)
	}
	if res.Conflicted {
		out := Outcome{Action: ActionBlock, Reason: ReasonMergeConflict, HeadSHA: pr.HeadSHA,
			Message: fmt.Sprintf("update from %s conflicts and needs manual resolution", pr.BaseRef)}
		return false, &out, e.act(ctx, pr, out)
	}
	return res.Updated, nil, nil
}

// latestVerdict returns the parsed verdict from the most recent qualifying
// bot comment, or nil when no bot has reviewed this PR yet.
func (e *Engine) latestVerdict(ctx context.Context, number int) (*verdict.ReviewVerdict, error) {
	var comments []host.Comment
	err := e.withRetry(ctx, func() error {
		var err error
		comments, err = e.backend.ListComments(ctx, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}

	var latest *host.Comment
	for i := range comments {
		c := &comments[i]
		if !e.isBot(c.Author) || !verdict.Qualifies(c.Body) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	return verdict.Parse(latest.Body), nil
}

func (e *Engine) isBot(login string) bool {
	for _, b := range e.cfg.Review.BotLogins {
		if login == b {
			return true
		}
	}
	return false
}

// probeMergeability resolves the host's mergeability for the PR,
// re-fetching while the host is still computing it and falling back to a
// local merge simulation when it never settles. An unresolvable state is
// treated as conflicting.
func (e *Engine) probeMergeability(ctx context.Context, pr *host.PullRequest) (host.MergeabilityState, error) {
	state := pr.Mergeability()
	for attempt := 0; state == host.MergeabilityUnknown && attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return host.MergeabilityUnknown, ctx.Err()
		case <-time.After(3 * time.Second):
		}
		fresh, err := e.fetchPR(ctx, pr.Number)
		if err != nil {
			return host.MergeabilityUnknown, err
		}
		state = fresh.Mergeability()
	}

	if state == host.MergeabilityUnknown && e.ws != nil {
		dir, err := e.ws.Ensure(ctx, e.backend.CloneURL(), pr.HeadRef)
		if err != nil {
			slog.Warn("workspace unavailable for merge simulation", "error", err)
			return host.MergeabilityConflicting, nil
		}
		clean, err := gitops.SimulateMerge(ctx, dir, pr.BaseRef, pr.HeadRef)
		if err != nil {
			slog.Warn("merge simulation failed", "error", err)
			return host.MergeabilityConflicting, nil
		}
		if clean {
			return host.MergeabilityClean, nil
		}
		return host.MergeabilityConflicting, nil
	}
	if state == host.MergeabilityUnknown {
		// No workspace to simulate with. Fail closed.
		return host.MergeabilityConflicting, nil
	}
	return state, nil
}

// act carries the decision back to the host: a commit status on the head
// commit, a deduplicated explanatory comment, and auto-merge when ready.
func (e *Engine) act(ctx context.Context, pr *host.PullRequest, out Outcome) error {
	if err := e.withRetry(ctx, func() error {
		return e.backend.SetCommitStatus(ctx, pr.HeadSHA, commitState(out.Action), string(out.Reason))
	}); err != nil {
		return fmt.Errorf("setting commit status: %w", err)
	}

	if body := decisionComment(out); body != "" {
		if err := e.postCommentDeduped(ctx, pr.Number, body); err != nil {
			return err
		}
	}

	if out.Action == ActionMerge {
		if err := e.withRetry(ctx, func() error {
			return e.backend.EnableAutoMerge(ctx, pr)
		}); err != nil {
			return fmt.Errorf("enabling auto-merge: %w", err)
		}
		slog.Info("auto-merge enabled", "pr", pr.Number, "method", e.cfg.Host.MergeMethod)
	}
	return nil
}

func (e *Engine) fetchPR(ctx context.Context, number int) (*host.PullRequest, error) {
	var pr *host.PullRequest
	err := e.withRetry(ctx, func() error {
		var err error
		pr, err = e.backend.GetPullRequest(ctx, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching pull request %d: %w", number, err)
	}
	return pr, nil
}

// withRetry retries fn on transient host failures with exponential
// backoff.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.RetryIf(func(err error) bool { return errors.Is(err, host.ErrTransient) }),
		retry.LastErrorOnly(true),
	)
}

func commitState(a Action) host.CommitState {
	switch a {
	case ActionMerge:
		return host.CommitStateSuccess
	case ActionBlock:
		return host.CommitStateFailure
	default:
		return host.CommitStatePending
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
