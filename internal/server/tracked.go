// Package server hosts the long-running daemon: the tracked-PR documents,
// the monitor loop that re-evaluates them, the HTTP control API, and the
// process management around all of it.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mergewarden/mergewarden/internal/config"
	"github.com/mergewarden/mergewarden/internal/store"
)

// TrackedPR is a pull request under watch, persisted as a markdown document
// with YAML frontmatter. The body accumulates a human-readable decision
// history.
type TrackedPR struct {
	Number      int    `yaml:"number"`
	Repo        string `yaml:"repo"` // owner/name
	Title       string `yaml:"title"`
	Status      string `yaml:"status"` // watching, merging, blocked, merged, removed
	LastAction  string `yaml:"last_action"`
	LastReason  string `yaml:"last_reason"`
	LastSHA     string `yaml:"last_sha"`
	Created     string `yaml:"created"`
	LastChecked string `yaml:"last_checked"`
	Body        string `yaml:"-"`
}

// Terminal reports whether the PR needs no further evaluation.
func (pr *TrackedPR) Terminal() bool {
	return pr.Status == "merged" || pr.Status == "removed"
}

// TrackedDir returns the directory holding tracked-PR documents.
func TrackedDir() (string, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "prs"), nil
}

func trackedPath(number int) (string, error) {
	dir, err := TrackedDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%d.md", number)), nil
}

// LoadTracked reads one tracked-PR document.
func LoadTracked(number int) (*TrackedPR, error) {
	path, err := trackedPath(number)
	if err != nil {
		return nil, err
	}
	doc, err := store.ReadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("reading tracked PR %d: %w", number, err)
	}

	pr := &TrackedPR{Body: doc.Body}
	pr.Number = store.GetInt(doc.Frontmatter, "number")
	pr.Repo = store.GetString(doc.Frontmatter, "repo")
	pr.Title = store.GetString(doc.Frontmatter, "title")
	pr.Status = store.GetString(doc.Frontmatter, "status")
	pr.LastAction = store.GetString(doc.Frontmatter, "last_action")
	pr.LastReason = store.GetString(doc.Frontmatter, "last_reason")
	pr.LastSHA = store.GetString(doc.Frontmatter, "last_sha")
	pr.Created = store.GetString(doc.Frontmatter, "created")
	pr.LastChecked = store.GetString(doc.Frontmatter, "last_checked")
	return pr, nil
}

// SaveTracked writes a tracked-PR document under a file lock.
func SaveTracked(pr *TrackedPR) error {
	path, err := trackedPath(pr.Number)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating tracked-PR directory: %w", err)
	}

	doc := &store.Document{
		Frontmatter: map[string]any{
			"number":       pr.Number,
			"repo":         pr.Repo,
			"title":        pr.Title,
			"status":       pr.Status,
			"last_action":  pr.LastAction,
			"last_reason":  pr.LastReason,
			"last_sha":     pr.LastSHA,
			"created":      pr.Created,
			"last_checked": pr.LastChecked,
		},
		Body: pr.Body,
	}
	return store.WithLock(path, 5*time.Second, func() error {
		return store.WriteDocument(path, doc)
	})
}

// ListTracked returns all tracked-PR documents, skipping unreadable ones.
func ListTracked() ([]*TrackedPR, error) {
	dir, err := TrackedDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tracked-PR directory: %w", err)
	}

	var prs []*TrackedPR
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		number, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".md"))
		if err != nil {
			continue
		}
		pr, err := LoadTracked(number)
		if err != nil {
			slog.Warn("failed to load tracked PR", "file", entry.Name(), "error", err)
			continue
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

// DeleteTracked removes a tracked-PR document. Missing files are not an
// error.
func DeleteTracked(number int) error {
	path, err := trackedPath(number)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing tracked PR %d: %w", number, err)
	}
	return nil
}

// reapTerminal deletes merged/removed PRs whose last check is older than a
// day, so the list stays tidy without losing visibility right after a
// merge.
func reapTerminal(prs []*TrackedPR) {
	const reapAge = 24 * time.Hour
	now := time.Now().UTC()

	for _, pr := range prs {
		if !pr.Terminal() || pr.LastChecked == "" {
			continue
		}
		t := store.ParseTime(pr.LastChecked)
		if t.IsZero() || now.Sub(t) < reapAge {
			continue
		}
		slog.Info("reaping terminal PR", "pr", pr.Number, "status", pr.Status)
		if err := DeleteTracked(pr.Number); err != nil {
			slog.Error("failed to reap tracked PR", "pr", pr.Number, "error", err)
		}
	}
}

// appendHistory adds a timestamped decision line to the document body.
func (pr *TrackedPR) appendHistory(line string) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	pr.Body = strings.TrimRight(pr.Body, "\n")
	if pr.Body != "" {
		pr.Body += "\n"
	}
	pr.Body += fmt.Sprintf("- %s %s\n", stamp, line)
}
