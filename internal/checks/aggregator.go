// Package checks accumulates named CI check results for a commit until a
// required set is resolved or a wait ceiling is reached.
package checks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mergewarden/mergewarden/internal/host"
)

// Source fetches the current merged check view for a commit. The host
// backend satisfies this.
type Source interface {
	ListChecks(ctx context.Context, sha string) ([]host.CheckResult, error)
}

// Result is the aggregate classification of the required check names.
type Result struct {
	// Complete is true when every required name resolved (not missing,
	// not pending). A timeout leaves Complete false — never silently
	// treated as passing.
	Complete  bool
	AllPassed bool
	Missing   []string
	Failed    []string
}

// Aggregator polls a Source until the required checks resolve.
type Aggregator struct {
	src      Source
	interval time.Duration
	maxWait  time.Duration
}

// NewAggregator creates an aggregator with the given poll interval and
// wait ceiling.
func NewAggregator(src Source, interval, maxWait time.Duration) *Aggregator {
	return &Aggregator{src: src, interval: interval, maxWait: maxWait}
}

// Wait polls the check view for sha until every required name resolves,
// any required check fails (early return, no point waiting out the clock),
// the wait ceiling passes, or ctx is cancelled. ctx is the supersession
// token: a newer event for the same PR cancels an in-flight wait keyed to
// a stale head SHA.
func (a *Aggregator) Wait(ctx context.Context, sha string, required []string) (*Result, error) {
	deadline := time.NewTimer(a.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		res, err := a.snapshot(ctx, sha, required)
		if err != nil {
			return nil, err
		}
		if res.Complete || len(res.Failed) > 0 {
			return res, nil
		}
		slog.Debug("checks not yet resolved", "sha", sha, "missing", res.Missing)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			// Report the timeout as incomplete; the engine maps this to
			// a wait outcome.
			return res, nil
		case <-ticker.C:
		}
	}
}

// snapshot fetches and classifies the current check view once.
func (a *Aggregator) snapshot(ctx context.Context, sha string, required []string) (*Result, error) {
	results, err := a.src.ListChecks(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("fetching checks for %s: %w", sha, err)
	}

	// With no explicit required set, every reported check is required.
	if len(required) == 0 {
		return classifyAll(results), nil
	}
	return Classify(results, required), nil
}

// Classify resolves each required name against the fetched check set.
// Names are matched exactly first, then by substring containment in either
// direction — CI systems rename and prefix check names ("tests" becomes
// "build-and-test / tests (ubuntu-latest)").
func Classify(results []host.CheckResult, required []string) *Result {
	res := &Result{}

	resolvedAll := true
	failedAny := false

	for _, name := range required {
		match, ok := findCheck(results, name)
		if !ok {
			res.Missing = append(res.Missing, name)
			resolvedAll = false
			continue
		}
		if match.Status != host.CheckCompleted {
			res.Missing = append(res.Missing, name)
			resolvedAll = false
			continue
		}
		switch match.Conclusion {
		case host.ConclusionSuccess, host.ConclusionSkipped:
			// skipped counts as passed
		default:
			res.Failed = append(res.Failed, match.Name)
			failedAny = true
		}
	}

	res.Complete = resolvedAll
	res.AllPassed = resolvedAll && !failedAny
	return res
}

// classifyAll treats every reported check as required: used when no
// explicit required set is configured. An empty snapshot is incomplete,
// not vacuously passing — right after a push CI has simply not reported
// yet.
func classifyAll(results []host.CheckResult) *Result {
	if len(results) == 0 {
		return &Result{Missing: []string{"(no checks reported)"}}
	}
	res := &Result{Complete: true, AllPassed: true}
	for _, r := range results {
		if r.Status != host.CheckCompleted {
			res.Missing = append(res.Missing, r.Name)
			res.Complete = false
			res.AllPassed = false
			continue
		}
		switch r.Conclusion {
		case host.ConclusionSuccess, host.ConclusionSkipped:
		default:
			res.Failed = append(res.Failed, r.Name)
			res.AllPassed = false
		}
	}
	return res
}

// findCheck locates the check matching a required name: exact match wins,
// then substring containment in either direction.
func findCheck(results []host.CheckResult, name string) (host.CheckResult, bool) {
	for _, r := range results {
		if r.Name == name {
			return r, true
		}
	}
	lower := strings.ToLower(name)
	for _, r := range results {
		rl := strings.ToLower(r.Name)
		if strings.Contains(rl, lower) || strings.Contains(lower, rl) {
			return r, true
		}
	}
	return host.CheckResult{}, false
}
