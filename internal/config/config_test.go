package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host.MergeMethod != "squash" {
		t.Errorf("expected merge method squash, got %s", cfg.Host.MergeMethod)
	}
	if cfg.Checks.ParseMaxWait() != 30*time.Minute {
		t.Errorf("expected max wait 30m, got %v", cfg.Checks.ParseMaxWait())
	}
	if cfg.Checks.ParsePollInterval() != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Checks.ParsePollInterval())
	}
	if cfg.Runs.ParseGracePeriod() != 5*time.Minute {
		t.Errorf("expected grace period 5m, got %v", cfg.Runs.ParseGracePeriod())
	}
	if cfg.Runs.ParseLookback() != 2*time.Hour {
		t.Errorf("expected lookback 2h, got %v", cfg.Runs.ParseLookback())
	}
	if cfg.Server.ParseTickInterval() != 2*time.Minute {
		t.Errorf("expected tick interval 2m, got %v", cfg.Server.ParseTickInterval())
	}
	if cfg.Server.Port != 4180 {
		t.Errorf("expected server port 4180, got %d", cfg.Server.Port)
	}
}

func TestParseDurationsFallBackOnGarbage(t *testing.T) {
	c := ChecksConfig{MaxWait: "not-a-duration", PollInterval: ""}
	if c.ParseMaxWait() != 30*time.Minute {
		t.Errorf("expected fallback 30m, got %v", c.ParseMaxWait())
	}
	if c.ParsePollInterval() != 30*time.Second {
		t.Errorf("expected fallback 30s, got %v", c.ParsePollInterval())
	}
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonc")

	content := []byte(`{
  // required checks for this repo
  "checks": {
    "required": ["lint", "tests"],
    "max_wait": "15m"
  },
  "server": {
    "port": 9999
  }
}`)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	m, err := loadJSONC(path)
	if err != nil {
		t.Fatalf("loadJSONC failed: %v", err)
	}

	checks, ok := m["checks"].(map[string]any)
	if !ok {
		t.Fatal("expected checks to be a map")
	}
	if checks["max_wait"] != "15m" {
		t.Errorf("expected max_wait=15m, got %v", checks["max_wait"])
	}

	server, ok := m["server"].(map[string]any)
	if !ok {
		t.Fatal("expected server to be a map")
	}
	if server["port"] != float64(9999) {
		t.Errorf("expected port=9999, got %v", server["port"])
	}
}

func TestLoadJSONC_FileNotFound(t *testing.T) {
	_, err := loadJSONC("/nonexistent/path/config.jsonc")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestMergeIntoConfig(t *testing.T) {
	cfg := DefaultConfig()

	src := map[string]any{
		"host": map[string]any{
			"owner": "octocat",
			"repo":  "hello-world",
		},
		"checks": map[string]any{
			"required": []any{"lint", "tests"},
		},
	}

	if err := mergeIntoConfig(&cfg, src); err != nil {
		t.Fatalf("mergeIntoConfig failed: %v", err)
	}

	if cfg.Host.Owner != "octocat" {
		t.Errorf("expected owner octocat, got %s", cfg.Host.Owner)
	}
	if cfg.Host.Repo != "hello-world" {
		t.Errorf("expected repo hello-world, got %s", cfg.Host.Repo)
	}
	// Untouched fields keep their defaults.
	if cfg.Host.MergeMethod != "squash" {
		t.Errorf("expected merge method preserved, got %s", cfg.Host.MergeMethod)
	}
	if len(cfg.Checks.Required) != 2 {
		t.Errorf("expected 2 required checks, got %v", cfg.Checks.Required)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("MERGEWARDEN_DB", "/tmp/runs.db")

	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)

	if cfg.Host.Token != "env-token" {
		t.Errorf("expected token from env, got %s", cfg.Host.Token)
	}
	if cfg.Runs.DBPath != "/tmp/runs.db" {
		t.Errorf("expected db path from env, got %s", cfg.Runs.DBPath)
	}
}

func TestDataDirHonorsXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir failed: %v", err)
	}
	if dir != filepath.Join(tmp, "mergewarden") {
		t.Errorf("unexpected data dir: %s", dir)
	}
}
