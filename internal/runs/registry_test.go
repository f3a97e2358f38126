package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T, grace, lookback time.Duration) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"), grace, lookback)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestBeginFirstRunProceeds(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)

	id, suppressed, reason, err := r.Begin(context.Background(), Identity{
		TriggerKey: TriggerKey("acme", "widgets", 7, "abc123"),
		EventKind:  "synchronize",
	})
	require.NoError(t, err)
	assert.False(t, suppressed)
	assert.Empty(t, reason)
	assert.NotZero(t, id)
}

func TestBeginSuppressesActiveRun(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)
	key := TriggerKey("acme", "widgets", 7, "abc123")

	_, suppressed, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "opened"})
	require.NoError(t, err)
	require.False(t, suppressed)

	_, suppressed, reason, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "synchronize"})
	require.NoError(t, err)
	assert.True(t, suppressed)
	assert.Equal(t, "run already in progress", reason)
}

func TestBeginSuppressesRecentSuccess(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)
	key := TriggerKey("acme", "widgets", 7, "abc123")

	id, _, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "opened"})
	require.NoError(t, err)
	require.NoError(t, r.Finish(context.Background(), id, StatusSuccess))

	_, suppressed, reason, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "workflow-completed"})
	require.NoError(t, err)
	assert.True(t, suppressed)
	assert.Contains(t, reason, "grace period")
}

func TestBeginAllowsRetryAfterFailure(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)
	key := TriggerKey("acme", "widgets", 7, "abc123")

	id, _, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "opened"})
	require.NoError(t, err)
	require.NoError(t, r.Finish(context.Background(), id, StatusFailure))

	_, suppressed, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "synchronize"})
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestBeginAllowsAfterGraceExpires(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)
	key := TriggerKey("acme", "widgets", 7, "abc123")

	// Backdate the earlier run past the grace window.
	id, _, _, err := r.Begin(context.Background(), Identity{
		TriggerKey: key,
		EventKind:  "opened",
		StartedAt:  time.Now().Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	_, err = r.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		StatusSuccess, time.Now().Add(-10*time.Minute).Unix(), id)
	require.NoError(t, err)

	_, suppressed, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "synchronize"})
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, 2*time.Hour)

	_, suppressed, _, err := r.Begin(context.Background(), Identity{
		TriggerKey: TriggerKey("acme", "widgets", 7, "abc123"), EventKind: "opened"})
	require.NoError(t, err)
	require.False(t, suppressed)

	// New head SHA on the same PR is a new key.
	_, suppressed, _, err = r.Begin(context.Background(), Identity{
		TriggerKey: TriggerKey("acme", "widgets", 7, "def456"), EventKind: "synchronize"})
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestPruneDropsOldRows(t *testing.T) {
	r := openTestRegistry(t, 5*time.Minute, time.Hour)
	key := TriggerKey("acme", "widgets", 7, "abc123")

	// An active run started beyond the lookback window must not
	// suppress a fresh trigger once pruned.
	_, _, _, err := r.Begin(context.Background(), Identity{
		TriggerKey: key,
		EventKind:  "opened",
		StartedAt:  time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	_, suppressed, _, err := r.Begin(context.Background(), Identity{TriggerKey: key, EventKind: "synchronize"})
	require.NoError(t, err)
	assert.False(t, suppressed)
}
