package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vidpipe/internal/config"
	"vidpipe/internal/logging"
	"vidpipe/internal/queue"
)

// Manager owns the worker pool.
type Manager struct {
	store    *queue.Store
	executor Executor
	logger   *slog.Logger

	workers           int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	leaseTimeout      time.Duration
	maxAttempts       int
	backoff           time.Duration
	backoffMax        time.Duration

	wakeMu sync.Mutex
	wakeCh chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewManager constructs a Manager from configuration.
func NewManager(cfg *config.Config, store *queue.Store, executor Executor, logger *slog.Logger) *Manager {
	return &Manager{
		store:             store,
		executor:          executor,
		logger:            logging.NewComponentLogger(logger, "workflow"),
		workers:           cfg.Workflow.WorkerCount,
		pollInterval:      cfg.PollInterval(),
		heartbeatInterval: cfg.HeartbeatInterval(),
		leaseTimeout:      cfg.LeaseTimeout(),
		maxAttempts:       cfg.Workflow.MaxAttempts,
		backoff:           cfg.RetryBackoff(),
		backoffMax:        cfg.RetryBackoffMax(),
		wakeCh:            make(chan struct{}),
	}
}

// Start launches the workers and the lease reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.workers <= 0 {
		return fmt.Errorf("workflow: worker count must be positive, got %d", m.workers)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for i := 0; i < m.workers; i++ {
		w := &worker{
			manager: m,
			owner:   uuid.NewString(),
			logger:  m.logger.With(logging.Int(logging.FieldWorker, i)),
		}
		group.Go(func() error {
			w.run(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		m.runReclaimer(groupCtx)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	m.cancel = cancel
	m.done = done
	m.running = true
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop cancels the workers and waits for them to hand back their jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Running reports whether the pool is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Wake interrupts idle workers so they poll the queue immediately.
func (m *Manager) Wake() {
	m.wakeMu.Lock()
	close(m.wakeCh)
	m.wakeCh = make(chan struct{})
	m.wakeMu.Unlock()
}

func (m *Manager) wakeSignal() <-chan struct{} {
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()
	return m.wakeCh
}

// LastError returns the most recent queue access error seen by the pool.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// retryDelay returns backoff * 2^(attempt-1) capped at backoffMax.
func (m *Manager) retryDelay(attempt int) time.Duration {
	return RetryDelay(m.backoff, m.backoffMax, attempt)
}

// RetryDelay computes the exponential retry delay for the given attempt.
func RetryDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}
