package config

import "time"

// Config is the top-level mergewarden configuration.
type Config struct {
	Host      HostConfig      `json:"host"`
	Checks    ChecksConfig    `json:"checks"`
	Review    ReviewConfig    `json:"review"`
	Runs      RunsConfig      `json:"runs"`
	Workspace WorkspaceConfig `json:"workspace"`
	Server    ServerConfig    `json:"server"`
}

// HostConfig identifies the GitHub repository being watched and how to
// authenticate against it.
type HostConfig struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Token string `json:"token"`
	// MergeMethod is the auto-merge method: "squash", "merge", or "rebase".
	MergeMethod string `json:"merge_method"`
}

// ChecksConfig controls the check aggregation loop.
type ChecksConfig struct {
	// Required lists the check names that must resolve before a merge
	// decision. Names are matched exactly first, then by substring in
	// either direction to tolerate prefixed/renamed checks.
	Required     []string `json:"required"`
	MaxWait      string   `json:"max_wait"`
	PollInterval string   `json:"poll_interval"`
}

// ParseMaxWait returns the check-wait ceiling as a duration.
func (c ChecksConfig) ParseMaxWait() time.Duration {
	d, err := time.ParseDuration(c.MaxWait)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParsePollInterval returns the check poll interval as a duration.
func (c ChecksConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ReviewConfig identifies the automated reviewer whose verdict comments
// gate merging.
type ReviewConfig struct {
	// BotLogins are the comment author logins recognized as the reviewer.
	BotLogins []string `json:"bot_logins"`
}

// RunsConfig controls the duplicate-run registry.
type RunsConfig struct {
	// DBPath is the SQLite file backing the run registry. Empty means
	// the default under the data directory.
	DBPath string `json:"db_path"`
	// GracePeriod suppresses a run when another run for the same trigger
	// key completed successfully this recently.
	GracePeriod string `json:"grace_period"`
	// Lookback bounds how far back the registry is consulted; older rows
	// are pruned.
	Lookback string `json:"lookback"`
}

// ParseGracePeriod returns the success grace period as a duration.
func (r RunsConfig) ParseGracePeriod() time.Duration {
	d, err := time.ParseDuration(r.GracePeriod)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ParseLookback returns the registry lookback window as a duration.
func (r RunsConfig) ParseLookback() time.Duration {
	d, err := time.ParseDuration(r.Lookback)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// WorkspaceConfig controls the local clone used for branch reconciliation
// and merge simulation.
type WorkspaceConfig struct {
	// Dir is where clones live. Empty disables branch updates and the
	// local merge dry run; decisions then rely on host mergeability alone.
	Dir string `json:"dir"`
}

// ServerConfig holds daemon settings.
type ServerConfig struct {
	TickInterval string `json:"tick_interval"`
	Port         int    `json:"port"`
	LogDir       string `json:"log_dir"`
}

// ParseTickInterval returns the scheduled tick interval as a duration.
func (s ServerConfig) ParseTickInterval() time.Duration {
	d, err := time.ParseDuration(s.TickInterval)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host: HostConfig{
			MergeMethod: "squash",
		},
		Checks: ChecksConfig{
			MaxWait:      "30m",
			PollInterval: "30s",
		},
		Review: ReviewConfig{
			BotLogins: []string{"github-actions[bot]"},
		},
		Runs: RunsConfig{
			GracePeriod: "5m",
			Lookback:    "2h",
		},
		Server: ServerConfig{
			TickInterval: "2m",
			Port:         4180,
			LogDir:       "~/.local/share/mergewarden/logs",
		},
	}
}
