package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vidpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Intervals are shortened so worker pool tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.MediaRoot = filepath.Join(base, "media")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.WatchDir = filepath.Join(base, "incoming")
	cfgVal.Paths.SourceRoots = []string{filepath.Join(base, "uploads")}
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.FFmpeg.EncodeTimeout = 30
	cfgVal.FFmpeg.ThumbnailTimeout = 30
	cfgVal.FFmpeg.KillGrace = 1
	cfgVal.Workflow.WorkerCount = 2
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.LeaseTimeout = 10
	cfgVal.Workflow.MaxAttempts = 2
	cfgVal.Workflow.RetryBackoff = 0
	cfgVal.Workflow.RetryBackoffMax = 0
	cfgVal.Cleanup.RetryBackoffMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.MediaRoot, cfgVal.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.WorkerCount = n
	}
}

// WithStubbedBinaries writes the scriptable ffmpeg and ffprobe stubs (see
// stubs.go) into a private bin directory and prepends it to PATH. Additional
// names are stubbed with a script that exits 0.
func WithStubbedBinaries(extra ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := InstallStubs(b.t, filepath.Join(b.baseDir, "bin"), extra...)
		b.cfg.FFmpeg.Binary = filepath.Join(binDir, "ffmpeg")
		b.cfg.FFmpeg.FFprobeBinary = filepath.Join(binDir, "ffprobe")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.MediaRoot)
}
