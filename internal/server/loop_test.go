package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/engine"
	"github.com/mergewarden/mergewarden/internal/host"
)

func setupMonitorTest(t *testing.T, backend *host.MockBackend) *Monitor {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg := config.DefaultConfig()
	cfg.Host.Owner = "acme"
	cfg.Host.Repo = "widgets"
	cfg.Checks.Required = []string{"build"}
	cfg.Checks.PollInterval = "10ms"
	cfg.Checks.MaxWait = "10s"
	return NewMonitor(engine.New(backend, nil, cfg), cfg)
}

func TestSupersededCycleKeepsSuccessorTracked(t *testing.T) {
	backend := &host.MockBackend{
		PR: &host.PullRequest{
			Number:           7,
			State:            "open",
			HeadSHA:          "abc123",
			MergeStateStatus: "CLEAN",
		},
		// A pending required check keeps cycles blocked in the check wait.
		Checks: []host.CheckResult{{Name: "build", Status: host.CheckPending}},
	}
	m := setupMonitorTest(t, backend)
	require.NoError(t, SaveTracked(&TrackedPR{Number: 7, Status: "watching"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.handleEvent(ctx, Event{Kind: "opened", Number: 7})
	time.Sleep(20 * time.Millisecond)

	// The second event cancels the first cycle and takes over the slot.
	m.handleEvent(ctx, Event{Kind: "synchronize", Number: 7})

	// Give the superseded cycle time to observe cancellation and run its
	// cleanup; the successor's slot must survive it.
	time.Sleep(100 * time.Millisecond)

	m.mu.Lock()
	_, tracked := m.inflight[7]
	m.mu.Unlock()
	assert.True(t, tracked, "successor cycle lost its in-flight slot to the superseded cycle's cleanup")

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	remaining := len(m.inflight)
	m.mu.Unlock()
	assert.Zero(t, remaining, "cycles must clear their own slots on exit")
}

func TestHandleEventCancelsPredecessor(t *testing.T) {
	backend := &host.MockBackend{
		PR: &host.PullRequest{
			Number:           7,
			State:            "open",
			HeadSHA:          "abc123",
			MergeStateStatus: "CLEAN",
		},
		Checks: []host.CheckResult{{Name: "build", Status: host.CheckPending}},
	}
	m := setupMonitorTest(t, backend)
	require.NoError(t, SaveTracked(&TrackedPR{Number: 7, Status: "watching"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.handleEvent(ctx, Event{Kind: "opened", Number: 7})
	m.mu.Lock()
	first := m.inflight[7]
	m.mu.Unlock()
	require.NotNil(t, first)

	m.handleEvent(ctx, Event{Kind: "synchronize", Number: 7})
	m.mu.Lock()
	second := m.inflight[7]
	m.mu.Unlock()
	assert.NotSame(t, first, second, "a new event must install a fresh cycle handle")

	cancel()
	m.wg.Wait()
}

func TestStatusForMapsOutcomes(t *testing.T) {
	assert.Equal(t, "merging", statusFor(engine.Outcome{Action: engine.ActionMerge, Reason: engine.ReasonReady}))
	assert.Equal(t, "blocked", statusFor(engine.Outcome{Action: engine.ActionBlock, Reason: engine.ReasonCIFailed}))
	assert.Equal(t, "watching", statusFor(engine.Outcome{Action: engine.ActionWait, Reason: engine.ReasonAwaitingReview}))
	assert.Equal(t, "merged", statusFor(engine.Outcome{
		Action: engine.ActionWait, Reason: engine.ReasonPRClosed, Message: "pull request is merged"}))
	assert.Equal(t, "removed", statusFor(engine.Outcome{
		Action: engine.ActionWait, Reason: engine.ReasonPRClosed, Message: "pull request is closed"}))
}
