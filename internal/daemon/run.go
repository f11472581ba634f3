package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"vidpipe/internal/config"
	"vidpipe/internal/logging"
	"vidpipe/internal/preflight"
	"vidpipe/internal/queue"
	"vidpipe/internal/workflow"
)

// RunOptions configures daemon process runtime behavior.
type RunOptions struct {
	LogLevel string
}

// Run starts the vidpipe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts RunOptions) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg, opts.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "vidpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	executor, err := workflow.NewMediaExecutorFromConfig(cfg, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create executor: %w", err)
	}

	d, err := New(cfg, store, executor, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the api bind address"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("vidpipe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "dependency_snapshot"),
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
			logging.Bool("available", status.Available),
			logging.String("version", status.Version),
		}
		if status.Available || status.Optional {
			logger.Info("dependency snapshot", logging.Args(attrs...)...)
			continue
		}
		attrs = append(attrs,
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set ffmpeg.binary in the config"),
		)
		logger.Warn("required dependency missing", logging.Args(attrs...)...)
	}
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
		)
	}
}
