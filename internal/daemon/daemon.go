package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"vidpipe/internal/api"
	"vidpipe/internal/cleanup"
	"vidpipe/internal/config"
	"vidpipe/internal/dispatch"
	"vidpipe/internal/ingest"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/pipeline"
	"vidpipe/internal/queue"
	"vidpipe/internal/workflow"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	workflow   *workflow.Manager
	pipeline   *pipeline.Pipeline
	reconciler *cleanup.Reconciler
	watcher    *ingest.Watcher
	api        *api.Server

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workers      int
	Watching     bool
	APIAddress   string
	QueueDBPath  string
	LockFilePath string
	Queue        queue.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, executor workflow.Executor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || executor == nil {
		return nil, errors.New("daemon requires config, store, and executor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	resolver, err := layout.New(cfg.Paths.MediaRoot)
	if err != nil {
		return nil, err
	}

	manager := workflow.NewManager(cfg, store, executor, logger)
	coordinator := cleanup.NewCoordinatorFromConfig(cfg, store, resolver, logger)
	pipe := pipeline.New(store, dispatch.New(store, manager, logger), coordinator,
		pipeline.SourceRoots(resolver, cfg.Paths.SourceRoots), logger)

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		workflow:   manager,
		pipeline:   pipe,
		reconciler: cleanup.NewReconciler(store, coordinator, resolver, cfg.Cleanup.ReconcileSchedule, cfg.TombstoneRetention(), logger),
		api: api.NewServer(cfg.API.Bind, api.NewHandler(api.Options{
			Pipeline:           pipe,
			Store:              store,
			RateLimitPerMinute: cfg.API.RateLimitPerMinute,
			Logger:             logger,
		}), logger),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if cfg.Ingest.WatchEnabled {
		d.watcher = ingest.New(cfg, resolver, pipe, logger)
	}
	return d, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startServices(runCtx); err != nil {
		cancel()
		d.stopServices()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("vidpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
		logging.Bool("watching", d.watcher != nil),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	if err := d.workflow.Start(ctx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	if err := d.api.Start(); err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	return nil
}

// stopServices stops inbound sources first so nothing new arrives while the
// workers drain.
func (d *Daemon) stopServices() {
	d.api.Stop()
	if d.watcher != nil {
		d.watcher.Stop()
	}
	d.reconciler.Stop()
	d.workflow.Stop()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopServices()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vidpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Pipeline returns the event contract served by this daemon.
func (d *Daemon) Pipeline() *pipeline.Pipeline {
	return d.pipeline
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workers:      d.cfg.Workflow.WorkerCount,
		Watching:     d.watcher != nil && d.running.Load(),
		APIAddress:   d.api.Addr(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if summary, err := d.store.Health(ctx); err == nil {
		status.Queue = summary
	} else {
		d.logger.Warn("queue health unavailable", logging.Error(err))
	}
	return status
}
