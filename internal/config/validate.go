package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.MediaRoot) == "" {
		return errors.New("paths.media_root must be set (or export VIDPIPE_MEDIA_ROOT)")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateFFmpeg() error {
	if err := ensurePositiveMap(map[string]int{
		"ffmpeg.encode_timeout":      c.FFmpeg.EncodeTimeout,
		"ffmpeg.thumbnail_timeout":   c.FFmpeg.ThumbnailTimeout,
		"ffmpeg.thumbnail_max_width": c.FFmpeg.ThumbnailMaxWidth,
	}); err != nil {
		return err
	}
	if c.FFmpeg.KillGrace < 0 {
		return errors.New("ffmpeg.kill_grace must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.worker_count":        c.Workflow.WorkerCount,
		"workflow.queue_poll_interval": c.Workflow.QueuePollInterval,
		"workflow.max_attempts":        c.Workflow.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.LeaseTimeout <= 0 {
		return errors.New("workflow.lease_timeout must be positive")
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.RetryBackoff < 0 {
		return errors.New("workflow.retry_backoff must be >= 0")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if c.Cleanup.RetryAttempts < 1 {
		return errors.New("cleanup.retry_attempts must be >= 1")
	}
	if c.Cleanup.RetryBackoffMS < 0 {
		return errors.New("cleanup.retry_backoff_ms must be >= 0")
	}
	if c.Cleanup.TombstoneRetention < 0 {
		return errors.New("cleanup.tombstone_retention must be >= 0")
	}
	if _, err := cron.ParseStandard(c.Cleanup.ReconcileSchedule); err != nil {
		return fmt.Errorf("cleanup.reconcile_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if !strings.Contains(c.API.Bind, ":") {
		return fmt.Errorf("api.bind %q must be host:port", c.API.Bind)
	}
	if c.API.RateLimitPerMinute < 0 {
		return errors.New("api.rate_limit_per_minute must be >= 0")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if !c.Ingest.WatchEnabled {
		return nil
	}
	if strings.TrimSpace(c.Paths.WatchDir) == "" {
		return errors.New("paths.watch_dir must be set when ingest.watch_enabled is true")
	}
	if c.Paths.WatchDir == c.Paths.MediaRoot {
		return errors.New("paths.watch_dir must differ from paths.media_root")
	}
	if c.Ingest.SettleSeconds < 0 {
		return errors.New("ingest.settle_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
