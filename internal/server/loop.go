package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/engine"
	"github.com/mergewarden/mergewarden/internal/store"
)

// pollTrigger signals the monitor loop to run an immediate poll cycle.
// Used by the API server when PRs are added or events arrive.
var pollTrigger = make(chan struct{}, 1)

// TriggerPoll sends a non-blocking signal to the monitor loop to poll
// immediately.
func TriggerPoll() {
	select {
	case pollTrigger <- struct{}{}:
		slog.Debug("poll trigger sent")
	default:
		// Already triggered, don't block.
	}
}

// Event is a host or user signal that one PR needs re-evaluation now.
type Event struct {
	Kind   string // opened, synchronize, reopened, workflow-completed, comment, manual
	Number int
}

var events = make(chan Event, 64)

// Dispatch enqueues an event for the monitor loop. It reports false when
// the queue is full; the next ticker poll covers the PR anyway.
func Dispatch(ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
		slog.Warn("event queue full, dropping event", "kind", ev.Kind, "pr", ev.Number)
		return false
	}
}

// Monitor drives periodic and event-triggered decision cycles over the
// tracked PRs. Each PR has at most one cycle in flight; a newer event
// cancels the older cycle so a stale head commit is never acted on.
type Monitor struct {
	eng *engine.Engine
	cfg config.Config

	mu       sync.Mutex
	inflight map[int]*cycleHandle
	wg       sync.WaitGroup
}

// cycleHandle identifies one in-flight cycle. The pointer doubles as the
// ownership token: a superseded cycle's cleanup must not remove its
// successor's slot.
type cycleHandle struct {
	cancel context.CancelFunc
}

// NewMonitor builds a monitor over the given engine.
func NewMonitor(eng *engine.Engine, cfg config.Config) *Monitor {
	return &Monitor{eng: eng, cfg: cfg, inflight: make(map[int]*cycleHandle)}
}

// RunMonitorLoop blocks until the context is cancelled, re-evaluating
// tracked PRs on a ticker and on dispatched events.
func (m *Monitor) RunMonitorLoop(ctx context.Context) error {
	tick := m.cfg.Server.ParseTickInterval()
	slog.Info("starting monitor loop", "interval", tick)

	m.pollAll(ctx)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			slog.Info("monitor loop stopped")
			return nil
		case <-ticker.C:
			m.pollAll(ctx)
		case <-pollTrigger:
			slog.Info("immediate poll triggered")
			m.pollAll(ctx)
			ticker.Reset(tick)
		case ev := <-events:
			m.handleEvent(ctx, ev)
		}
	}
}

// handleEvent starts an asynchronous cycle for the event's PR, cancelling
// any cycle already running for it.
func (m *Monitor) handleEvent(ctx context.Context, ev Event) {
	m.mu.Lock()
	if prev, ok := m.inflight[ev.Number]; ok {
		slog.Info("superseding in-flight cycle", "pr", ev.Number, "kind", ev.Kind)
		prev.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	handle := &cycleHandle{cancel: cancel}
	m.inflight[ev.Number] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			// Clear the slot only if it is still ours; a successor may
			// have replaced it while we were winding down.
			if m.inflight[ev.Number] == handle {
				delete(m.inflight, ev.Number)
			}
			m.mu.Unlock()
		}()
		m.runCycle(cctx, ev.Number, ev.Kind)
	}()
}

// pollAll runs one synchronous cycle per watched PR, skipping any with an
// event-triggered cycle already in flight.
func (m *Monitor) pollAll(ctx context.Context) {
	prs, err := ListTracked()
	if err != nil {
		slog.Error("failed to list tracked PRs", "error", err)
		return
	}
	reapTerminal(prs)

	polled := 0
	for _, pr := range prs {
		if ctx.Err() != nil {
			return
		}
		if pr.Terminal() {
			continue
		}
		m.mu.Lock()
		_, busy := m.inflight[pr.Number]
		m.mu.Unlock()
		if busy {
			continue
		}
		polled++
		m.runCycle(ctx, pr.Number, "poll")
	}
	if polled > 0 {
		slog.Info("poll cycle complete", "polled", polled, "total", len(prs))
	}
}

// runCycle executes one decision cycle and folds the outcome back into the
// tracked-PR document.
func (m *Monitor) runCycle(ctx context.Context, number int, kind string) {
	out, err := m.eng.Decide(ctx, number, kind)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("decision cycle failed", "pr", number, "error", err)
	}

	pr, loadErr := LoadTracked(number)
	if loadErr != nil {
		slog.Warn("tracked document missing after cycle", "pr", number, "error", loadErr)
		return
	}

	// Duplicate-suppressed cycles change nothing worth recording.
	if out.Reason == engine.ReasonDuplicateRun {
		return
	}

	pr.LastAction = string(out.Action)
	pr.LastReason = string(out.Reason)
	if out.HeadSHA != "" {
		pr.LastSHA = out.HeadSHA
	}
	pr.LastChecked = store.FormatTime(time.Now())
	pr.Status = statusFor(out)
	pr.appendHistory(string(out.Action) + " (" + string(out.Reason) + ")")

	if err := SaveTracked(pr); err != nil {
		slog.Error("failed to save tracked PR", "pr", number, "error", err)
	}
}

func statusFor(out engine.Outcome) string {
	switch {
	case out.Reason == engine.ReasonPRClosed:
		if strings.Contains(out.Message, "merged") {
			return "merged"
		}
		return "removed"
	case out.Action == engine.ActionMerge:
		return "merging"
	case out.Action == engine.ActionBlock:
		return "blocked"
	default:
		return "watching"
	}
}
