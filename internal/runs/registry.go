// Package runs keeps a durable ledger of decision cycles so overlapping
// triggers for the same pull request state collapse into a single run.
// State lives outside the process so a restart cannot forget an in-flight
// or recently finished cycle.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Identity names one decision cycle. TriggerKey binds the run to a PR at a
// specific head commit, so a new push starts a fresh key.
type Identity struct {
	TriggerKey string
	EventKind  string
	StartedAt  time.Time
}

// Registry is the duplicate-run ledger backed by a SQLite database.
type Registry struct {
	db       *sql.DB
	grace    time.Duration
	lookback time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trigger_key TEXT NOT NULL,
	event_kind  TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(trigger_key, started_at);
`

// Open opens (creating if needed) the registry database at path. grace is
// how long a finished successful run keeps suppressing retriggers;
// lookback bounds how much history is retained.
func Open(path string, grace, lookback time.Duration) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating registry dir: %w", err)
	}

	// Single connection, WAL mode. The registry is low-traffic and a
	// lone writer sidesteps SQLITE_BUSY entirely.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing registry schema: %w", err)
	}
	return &Registry{db: db, grace: grace, lookback: lookback}, nil
}

// Close releases the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// Begin records the start of a run unless an equivalent one makes it
// redundant. It returns suppressed=true with a reason when the key has an
// active run or completed successfully within the grace period. Old rows
// beyond the lookback window are pruned on the way in.
func (r *Registry) Begin(ctx context.Context, id Identity) (runID int64, suppressed bool, reason string, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, "", fmt.Errorf("beginning registry tx: %w", err)
	}
	defer tx.Rollback()

	now := id.StartedAt
	if now.IsZero() {
		now = time.Now()
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ?`, now.Add(-r.lookback).Unix()); err != nil {
		return 0, false, "", fmt.Errorf("pruning registry: %w", err)
	}

	var status string
	var finishedAt sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT status, finished_at FROM runs WHERE trigger_key = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`, id.TriggerKey)
	switch err := row.Scan(&status, &finishedAt); {
	case errors.Is(err, sql.ErrNoRows):
		// First run for this key.
	case err != nil:
		return 0, false, "", fmt.Errorf("querying registry: %w", err)
	case status == StatusActive:
		return 0, true, "run already in progress", nil
	case status == StatusSuccess && finishedAt.Valid &&
		now.Sub(time.Unix(finishedAt.Int64, 0)) < r.grace:
		return 0, true, "completed successfully within grace period", nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (trigger_key, event_kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id.TriggerKey, id.EventKind, StatusActive, now.Unix())
	if err != nil {
		return 0, false, "", fmt.Errorf("recording run: %w", err)
	}
	runID, err = res.LastInsertId()
	if err != nil {
		return 0, false, "", fmt.Errorf("reading run id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, "", fmt.Errorf("committing registry tx: %w", err)
	}
	return runID, false, "", nil
}

// Finish marks a run complete with the given status.
func (r *Registry) Finish(ctx context.Context, runID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", runID, err)
	}
	return nil
}

// TriggerKey builds the canonical key for a PR at a head commit.
func TriggerKey(owner, repo string, number int, headSHA string) string {
	return fmt.Sprintf("%s/%s#%d@%s", owner, repo, number, headSHA)
}
