// Package gitops holds the git plumbing for branch reconciliation: keeping
// a local clone fresh, bringing a lagging head branch up to date, and
// dry-running merges when the host's mergeability field is stale.
package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Workspace manages local clones under a root directory, one per
// repository.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{root: dir}
}

// Ensure clones the repository if needed and checks out the head branch at
// origin's tip, returning the working directory. An existing clone is
// fetched and hard-reset so every cycle starts from the remote's state.
func (w *Workspace) Ensure(ctx context.Context, remoteURL, headRef string) (string, error) {
	dir := filepath.Join(w.root, cloneSlug(remoteURL))

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(w.root, 0755); err != nil {
			return "", fmt.Errorf("creating workspace root: %w", err)
		}
		if out, err := runGit(ctx, w.root, "clone", remoteURL, dir); err != nil {
			return "", fmt.Errorf("git clone: %s: %w", out, err)
		}
	}

	if out, err := runGit(ctx, dir, "fetch", "origin", "--prune"); err != nil {
		return "", fmt.Errorf("git fetch: %s: %w", out, err)
	}
	if out, err := runGit(ctx, dir, "checkout", "-B", headRef, "origin/"+headRef); err != nil {
		return "", fmt.Errorf("git checkout %s: %s: %w", headRef, out, err)
	}

	return dir, nil
}

// cloneSlug derives a stable directory name from a remote URL, with any
// credentials stripped.
func cloneSlug(remoteURL string) string {
	s := remoteURL
	if at := strings.LastIndex(s, "@"); at != -1 {
		s = s[at+1:]
	}
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.NewReplacer("/", "__", ":", "_").Replace(s)
}

// runGit runs a git command in dir and returns its combined output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		slog.Debug("git command failed", "args", strings.Join(args, " "), "output", strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), err
}
