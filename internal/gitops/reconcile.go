package gitops

import (
	"context"
	"fmt"
	"log/slog"
)

// Method records how a branch update was achieved.
type Method string

const (
	MethodNone   Method = "none"
	MethodMerge  Method = "merge"
	MethodRebase Method = "rebase"
	MethodFailed Method = "failed"
)

// ReconcileResult reports the outcome of bringing a head branch up to date
// with its base.
type ReconcileResult struct {
	Updated    bool
	Conflicted bool
	Method     Method
}

// Reconcile brings headRef up to date with origin/baseRef inside dir. It
// tries a merge first; if the merge conflicts it is aborted and a single
// rebase is attempted. A merge result is pushed normally, a rebase result
// with --force-with-lease so a concurrent push to the branch loses nothing
// silently. Exactly one merge and at most one rebase are attempted per
// call.
func Reconcile(ctx context.Context, dir, baseRef, headRef string) (ReconcileResult, error) {
	if out, err := runGit(ctx, dir, "fetch", "origin", baseRef); err != nil {
		return ReconcileResult{Method: MethodFailed}, fmt.Errorf("git fetch %s: %s: %w", baseRef, out, err)
	}

	if _, err := runGit(ctx, dir, "merge", "--no-edit", "origin/"+baseRef); err == nil {
		if out, err := runGit(ctx, dir, "push", "origin", headRef); err != nil {
			return ReconcileResult{Method: MethodFailed}, fmt.Errorf("git push: %s: %w", out, err)
		}
		return ReconcileResult{Updated: true, Method: MethodMerge}, nil
	}

	// Merge conflicted. Clean up and fall back to a rebase, which can
	// succeed where a merge did not when the conflicting hunks were
	// already resolved upstream.
	if out, err := runGit(ctx, dir, "merge", "--abort"); err != nil {
		slog.Warn("merge abort failed", "output", out)
	}

	if _, err := runGit(ctx, dir, "rebase", "origin/"+baseRef); err != nil {
		if out, abortErr := runGit(ctx, dir, "rebase", "--abort"); abortErr != nil {
			slog.Warn("rebase abort failed", "output", out)
		}
		return ReconcileResult{Conflicted: true, Method: MethodFailed}, nil
	}

	if out, err := runGit(ctx, dir, "push", "--force-with-lease", "origin", headRef); err != nil {
		return ReconcileResult{Method: MethodFailed}, fmt.Errorf("git push --force-with-lease: %s: %w", out, err)
	}
	return ReconcileResult{Updated: true, Method: MethodRebase}, nil
}

// SimulateMerge dry-runs a merge of headRef into origin/baseRef inside dir
// and reports whether it would apply cleanly. The working tree is restored
// regardless of outcome.
func SimulateMerge(ctx context.Context, dir, baseRef, headRef string) (clean bool, err error) {
	if out, err := runGit(ctx, dir, "fetch", "origin", baseRef); err != nil {
		return false, fmt.Errorf("git fetch %s: %s: %w", baseRef, out, err)
	}
	if out, err := runGit(ctx, dir, "checkout", "--detach", "origin/"+baseRef); err != nil {
		return false, fmt.Errorf("git checkout: %s: %w", out, err)
	}
	defer func() {
		if out, cerr := runGit(ctx, dir, "checkout", headRef); cerr != nil && err == nil {
			err = fmt.Errorf("restoring %s: %s: %w", headRef, out, cerr)
		}
	}()

	_, mergeErr := runGit(ctx, dir, "merge", "--no-commit", "--no-ff", headRef)
	if out, err := runGit(ctx, dir, "merge", "--abort"); err != nil {
		// --abort fails when the merge applied without creating
		// MERGE_HEAD state worth undoing; reset covers that case.
		if out2, rerr := runGit(ctx, dir, "reset", "--hard", "HEAD"); rerr != nil {
			slog.Warn("merge cleanup failed", "abort", out, "reset", out2)
		}
	}
	return mergeErr == nil, nil
}
