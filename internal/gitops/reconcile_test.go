package gitops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitT(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runGit(context.Background(), dir, args...)
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return out
}

func writeFileT(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// setupRemote builds a bare origin with a main branch holding one commit
// and a seed clone to drive further history from. Commits in every repo
// (including workspace clones made by Ensure) pick up identity from the
// env vars.
func setupRemote(t *testing.T) (origin, seed string) {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "tester")
	t.Setenv("GIT_AUTHOR_EMAIL", "tester@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "tester")
	t.Setenv("GIT_COMMITTER_EMAIL", "tester@example.com")

	root := t.TempDir()
	origin = filepath.Join(root, "origin.git")
	gitT(t, root, "init", "--bare", "-b", "main", origin)

	seed = filepath.Join(root, "seed")
	gitT(t, root, "clone", origin, seed)
	// An empty clone may land on the local default branch name.
	gitT(t, seed, "checkout", "-B", "main")
	writeFileT(t, seed, "file.txt", "base\n")
	gitT(t, seed, "add", ".")
	gitT(t, seed, "commit", "-m", "initial")
	gitT(t, seed, "push", "origin", "main")
	return origin, seed
}

// divergeBehind gives feature its own commit, then advances main past it
// with a non-conflicting change, leaving feature behind by one.
func divergeBehind(t *testing.T, seed string) {
	t.Helper()
	gitT(t, seed, "checkout", "-b", "feature")
	writeFileT(t, seed, "feature.txt", "feature work\n")
	gitT(t, seed, "add", ".")
	gitT(t, seed, "commit", "-m", "feature work")
	gitT(t, seed, "push", "origin", "feature")

	gitT(t, seed, "checkout", "main")
	writeFileT(t, seed, "main.txt", "main work\n")
	gitT(t, seed, "add", ".")
	gitT(t, seed, "commit", "-m", "main work")
	gitT(t, seed, "push", "origin", "main")
}

// divergeConflicting edits the same line on both branches so neither a
// merge nor a rebase can apply cleanly.
func divergeConflicting(t *testing.T, seed string) {
	t.Helper()
	gitT(t, seed, "checkout", "-b", "feature")
	writeFileT(t, seed, "file.txt", "feature version\n")
	gitT(t, seed, "add", ".")
	gitT(t, seed, "commit", "-m", "feature edit")
	gitT(t, seed, "push", "origin", "feature")

	gitT(t, seed, "checkout", "main")
	writeFileT(t, seed, "file.txt", "main version\n")
	gitT(t, seed, "add", ".")
	gitT(t, seed, "commit", "-m", "main edit")
	gitT(t, seed, "push", "origin", "main")
}

func TestReconcileMergesBehindBranch(t *testing.T) {
	origin, seed := setupRemote(t)
	divergeBehind(t, seed)

	w := NewWorkspace(t.TempDir())
	dir, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)

	res, err := Reconcile(context.Background(), dir, "main", "feature")
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.False(t, res.Conflicted)
	// A successful merge is never followed by a rebase in the same cycle.
	assert.Equal(t, MethodMerge, res.Method)

	// The update reached origin: feature now contains main's commit.
	gitT(t, seed, "fetch", "origin")
	out := gitT(t, seed, "rev-list", "--count", "origin/main..origin/feature")
	assert.NotEqual(t, "", out)
	behind := gitT(t, seed, "rev-list", "--count", "origin/feature..origin/main")
	assert.Equal(t, "0", behind, "feature must no longer be behind main")
}

func TestReconcileReportsConflict(t *testing.T) {
	origin, seed := setupRemote(t)
	divergeConflicting(t, seed)

	w := NewWorkspace(t.TempDir())
	dir, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)

	before := gitT(t, seed, "rev-parse", "origin/feature")

	res, err := Reconcile(context.Background(), dir, "main", "feature")
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.True(t, res.Conflicted)
	assert.Equal(t, MethodFailed, res.Method)

	// Nothing was pushed and the working tree holds no half-done merge.
	gitT(t, seed, "fetch", "origin")
	after := gitT(t, seed, "rev-parse", "origin/feature")
	assert.Equal(t, before, after)
	status := gitT(t, dir, "status", "--porcelain")
	assert.Empty(t, status)
}

func TestEnsureReusesExistingClone(t *testing.T) {
	origin, seed := setupRemote(t)
	divergeBehind(t, seed)

	w := NewWorkspace(t.TempDir())
	dir1, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)
	dir2, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)

	branch := gitT(t, dir2, "rev-parse", "--abbrev-ref", "HEAD")
	assert.Equal(t, "feature", branch)
}

func TestSimulateMergeClean(t *testing.T) {
	origin, seed := setupRemote(t)
	divergeBehind(t, seed)

	w := NewWorkspace(t.TempDir())
	dir, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)

	clean, err := SimulateMerge(context.Background(), dir, "main", "feature")
	require.NoError(t, err)
	assert.True(t, clean)

	// The dry run leaves the tree back on the head branch, unchanged.
	branch := gitT(t, dir, "rev-parse", "--abbrev-ref", "HEAD")
	assert.Equal(t, "feature", branch)
	status := gitT(t, dir, "status", "--porcelain")
	assert.Empty(t, status)
}

func TestSimulateMergeConflicting(t *testing.T) {
	origin, seed := setupRemote(t)
	divergeConflicting(t, seed)

	w := NewWorkspace(t.TempDir())
	dir, err := w.Ensure(context.Background(), origin, "feature")
	require.NoError(t, err)

	clean, err := SimulateMerge(context.Background(), dir, "main", "feature")
	require.NoError(t, err)
	assert.False(t, clean)

	branch := gitT(t, dir, "rev-parse", "--abbrev-ref", "HEAD")
	assert.Equal(t, "feature", branch)
	status := gitT(t, dir, "status", "--porcelain")
	assert.Empty(t, status)
}
