package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	MediaRoot string `toml:"media_root"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	WatchDir  string `toml:"watch_dir"`
	// SourceRoots lists extra directories uploads may reference. The
	// originals directory under MediaRoot is always allowed.
	SourceRoots []string `toml:"source_roots"`
}

// FFmpeg contains external tool settings for transcoding and frame extraction.
type FFmpeg struct {
	Binary                 string  `toml:"binary"`
	FFprobeBinary          string  `toml:"ffprobe_binary"`
	EncodeTimeout          int     `toml:"encode_timeout"`
	ThumbnailTimeout       int     `toml:"thumbnail_timeout"`
	ThumbnailOffsetSeconds float64 `toml:"thumbnail_offset_seconds"`
	ThumbnailMaxWidth      int     `toml:"thumbnail_max_width"`
	KillGrace              int     `toml:"kill_grace"`
}

// Workflow contains worker pool sizing, polling and lease settings. Intervals
// are expressed in seconds.
type Workflow struct {
	WorkerCount       int `toml:"worker_count"`
	QueuePollInterval int `toml:"queue_poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	LeaseTimeout      int `toml:"lease_timeout"`
	MaxAttempts       int `toml:"max_attempts"`
	RetryBackoff      int `toml:"retry_backoff"`
	RetryBackoffMax   int `toml:"retry_backoff_max"`
}

// Cleanup contains settings for deletion cleanup and the periodic reconciler.
type Cleanup struct {
	RetryAttempts     int    `toml:"retry_attempts"`
	RetryBackoffMS    int    `toml:"retry_backoff_ms"`
	ReconcileSchedule string `toml:"reconcile_schedule"`
	// TombstoneRetention is expressed in hours.
	TombstoneRetention int `toml:"tombstone_retention"`
}

// API contains the event API listener settings. An empty bind disables it.
type API struct {
	Bind               string `toml:"bind"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
}

// Ingest contains watch-folder ingestion settings.
type Ingest struct {
	WatchEnabled  bool     `toml:"watch_enabled"`
	Extensions    []string `toml:"extensions"`
	SettleSeconds int      `toml:"settle_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidpipe.
//
// Configuration sections by subsystem:
//   - Paths: media root, state database, logs and the watch folder
//   - FFmpeg: binaries, timeouts and thumbnail parameters
//   - Workflow: worker count, polling, leases and retries
//   - Cleanup: deletion retries and reconciler schedule
//   - API: event API bind address and rate limit
//   - Ingest: watch-folder ingestion
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	FFmpeg   FFmpeg   `toml:"ffmpeg"`
	Workflow Workflow `toml:"workflow"`
	Cleanup  Cleanup  `toml:"cleanup"`
	API      API      `toml:"api"`
	Ingest   Ingest   `toml:"ingest"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// watch directory is only created when watch ingestion is enabled.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.MediaRoot, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Ingest.WatchEnabled && strings.TrimSpace(c.Paths.WatchDir) != "" {
		if err := os.MkdirAll(c.Paths.WatchDir, 0o755); err != nil {
			return fmt.Errorf("create watch directory %q: %w", c.Paths.WatchDir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database holding entities and jobs.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "vidpipe.lock")
}

// EncodeTimeout returns the per-rendition ffmpeg deadline.
func (c *Config) EncodeTimeout() time.Duration {
	return time.Duration(c.FFmpeg.EncodeTimeout) * time.Second
}

// ThumbnailTimeout returns the frame extraction deadline.
func (c *Config) ThumbnailTimeout() time.Duration {
	return time.Duration(c.FFmpeg.ThumbnailTimeout) * time.Second
}

// ThumbnailOffset returns the preferred thumbnail timestamp.
func (c *Config) ThumbnailOffset() time.Duration {
	return time.Duration(c.FFmpeg.ThumbnailOffsetSeconds * float64(time.Second))
}

// KillGrace returns how long a timed-out ffmpeg gets between SIGTERM and SIGKILL.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.FFmpeg.KillGrace) * time.Second
}

// PollInterval returns the idle worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// HeartbeatInterval returns how often running jobs renew their lease.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// LeaseTimeout returns how long a claim stays valid without a heartbeat.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Workflow.LeaseTimeout) * time.Second
}

// RetryBackoff returns the base delay before a transient failure is retried.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Workflow.RetryBackoff) * time.Second
}

// RetryBackoffMax caps the exponential retry delay.
func (c *Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.Workflow.RetryBackoffMax) * time.Second
}

// CleanupBackoff returns the delay between cleanup removal attempts.
func (c *Config) CleanupBackoff() time.Duration {
	return time.Duration(c.Cleanup.RetryBackoffMS) * time.Millisecond
}

// TombstoneRetention returns how long tombstoned entity rows are kept.
func (c *Config) TombstoneRetention() time.Duration {
	return time.Duration(c.Cleanup.TombstoneRetention) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
