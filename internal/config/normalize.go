package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFFmpeg()
	c.normalizeWorkflow()
	c.normalizeCleanup()
	c.normalizeIngest()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("VIDPIPE_MEDIA_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.MediaRoot = strings.TrimSpace(value)
	}
	var err error
	if c.Paths.MediaRoot, err = expandPath(c.Paths.MediaRoot); err != nil {
		return fmt.Errorf("paths.media_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
		return fmt.Errorf("paths.watch_dir: %w", err)
	}
	roots := c.Paths.SourceRoots[:0]
	for _, root := range c.Paths.SourceRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(root)
		if err != nil {
			return fmt.Errorf("paths.source_roots: %w", err)
		}
		roots = append(roots, expanded)
	}
	c.Paths.SourceRoots = roots
	return nil
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.Binary = strings.TrimSpace(c.FFmpeg.Binary)
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	if c.FFmpeg.ThumbnailOffsetSeconds < 0 {
		c.FFmpeg.ThumbnailOffsetSeconds = 0
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount()
	}
	if c.Workflow.RetryBackoffMax < c.Workflow.RetryBackoff {
		c.Workflow.RetryBackoffMax = c.Workflow.RetryBackoff
	}
}

func (c *Config) normalizeCleanup() {
	c.Cleanup.ReconcileSchedule = strings.TrimSpace(c.Cleanup.ReconcileSchedule)
	if c.Cleanup.ReconcileSchedule == "" {
		c.Cleanup.ReconcileSchedule = defaultReconcileSchedule
	}
	if c.Cleanup.RetryAttempts <= 0 {
		c.Cleanup.RetryAttempts = 1
	}
}

func (c *Config) normalizeIngest() {
	if len(c.Ingest.Extensions) == 0 {
		c.Ingest.Extensions = append([]string(nil), defaultExtensions...)
		return
	}
	exts := make([]string, 0, len(c.Ingest.Extensions))
	seen := make(map[string]struct{}, len(c.Ingest.Extensions))
	for _, ext := range c.Ingest.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	c.Ingest.Extensions = exts
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
