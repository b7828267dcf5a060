package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Contest   ContestConfig   `json:"contest"`
	Fetch     FetchConfig     `json:"fetch,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	WinProb   WinProbConfig   `json:"winprob,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Server    ServerConfig    `json:"server,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// ContestConfig points at the contest whose standings are tracked.
// Either URL is set directly, or File names a text file whose first
// line holds the URL (the layout the browser tooling produces).
type ContestConfig struct {
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

type FetchConfig struct {
	// AuthStatePath points at a browser storage-state JSON file whose
	// cookies are loaded into the HTTP client. Optional.
	AuthStatePath string `json:"auth_state_path,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	// MinRequestGap rate-limits outgoing fetches regardless of who
	// triggers them. "0s" disables the limiter.
	MinRequestGap string `json:"min_request_gap,omitempty"`
}

type SchedulerConfig struct {
	// Interval is the tick cadence. Must be > 0; defaults to "60s".
	// The DKWATCH_INTERVAL environment variable overrides it.
	Interval    string `json:"interval,omitempty"`
	RunTimeout  string `json:"run_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	// PruneSchedule is a cron spec (or "@every ..." / plain duration)
	// for the snapshot retention job. Empty disables pruning.
	PruneSchedule string `json:"prune_schedule,omitempty"`
	Retention     string `json:"retention,omitempty"`
}

type WinProbConfig struct {
	// Sigma2 is the score variance per minute of PMR.
	Sigma2 float64 `json:"sigma2,omitempty"`
	Sims   int    `json:"sims,omitempty"`
}

// StorageConfig controls the snapshot store.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "csvdir": one CSV file per snapshot in a directory
//
// If Driver is empty or "none", persistence is disabled.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled,omitempty"`
	Addr            string `json:"addr,omitempty"` // default "127.0.0.1:8610"
	ReleaseMode     bool   `json:"release_mode,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console *bool          `json:"console,omitempty"` // default true
	File    FileLogsConfig `json:"file,omitempty"`
}

type FileLogsConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Path    string `json:"path,omitempty"`    // default "./scheduler.log"
}

// EnvInterval is the environment override for scheduler.interval.
const EnvInterval = "DKWATCH_INTERVAL"

const (
	DefaultInterval = 60 * time.Second
	DefaultLogPath  = "./scheduler.log"
)

// ConsoleEnabled resolves the console sink default.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// FileEnabled resolves the file sink default.
func (l LoggingConfig) FileEnabled() bool {
	if l.File.Enabled == nil {
		return true
	}
	return *l.File.Enabled
}

func (l LoggingConfig) FilePath() string {
	if strings.TrimSpace(l.File.Path) == "" {
		return DefaultLogPath
	}
	return l.File.Path
}

// Interval resolves the tick cadence: env override first, then the config
// value, then the default. The returned value is always > 0 or an error.
func (s SchedulerConfig) IntervalDuration() (time.Duration, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvInterval)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", EnvInterval, raw, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("%s: interval must be > 0", EnvInterval)
		}
		return d, nil
	}
	d, err := ParseDurationOrDefault("scheduler.interval", s.Interval, DefaultInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("scheduler.interval: must be > 0")
	}
	return d, nil
}

// Validate rejects configs the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Contest.URL) == "" && strings.TrimSpace(c.Contest.File) == "" {
		return errors.New("contest: either url or file is required")
	}
	if _, err := c.Scheduler.IntervalDuration(); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.run_timeout", c.Scheduler.RunTimeout},
		{"scheduler.retention", c.Scheduler.Retention},
		{"fetch.timeout", c.Fetch.Timeout},
		{"fetch.min_request_gap", c.Fetch.MinRequestGap},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.WinProb.Sigma2 < 0 {
		return errors.New("winprob.sigma2: must be >= 0")
	}
	if c.WinProb.Sims < 0 {
		return errors.New("winprob.sims: must be >= 0")
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none", "sqlite", "sqlite3", "csvdir":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}
