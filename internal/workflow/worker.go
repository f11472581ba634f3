package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

// storeTimeout bounds queue writes made after the run context is gone.
const storeTimeout = 10 * time.Second

type worker struct {
	manager *Manager
	owner   string
	logger  *slog.Logger
}

func (w *worker) run(ctx context.Context) {
	m := w.manager
	for {
		if ctx.Err() != nil {
			return
		}
		wake := m.wakeSignal()
		job, err := m.store.Claim(ctx, w.owner, time.Now().Add(m.leaseTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			w.logger.Error("failed to claim job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			w.wait(ctx, nil)
			continue
		}
		if job == nil {
			w.wait(ctx, wake)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *worker) wait(ctx context.Context, wake <-chan struct{}) {
	timer := time.NewTimer(w.manager.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-timer.C:
	}
}

// leaseState records why a heartbeat gave up on a job.
type leaseState struct {
	mu   sync.Mutex
	lost error
}

func (l *leaseState) set(err error) {
	l.mu.Lock()
	if l.lost == nil {
		l.lost = err
	}
	l.mu.Unlock()
}

func (l *leaseState) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

func (w *worker) process(ctx context.Context, job *queue.Job) {
	m := w.manager
	ctx = services.WithEntityID(ctx, job.EntityID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithKind(ctx, string(job.Kind))
	logger := logging.WithContext(ctx, w.logger)
	kind := string(job.Kind)

	// The entity may have been tombstoned between claim and start.
	if err := m.store.RenewLease(ctx, job.ID, w.owner, time.Now().Add(m.leaseTimeout)); err != nil {
		w.abandon(ctx, logger, job, err, false)
		return
	}

	logger.Info("job started",
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_started"),
	)

	jobCtx, cancelJob := context.WithCancel(ctx)
	lease := &leaseState{}
	var hb sync.WaitGroup
	hb.Add(1)
	go w.heartbeat(jobCtx, &hb, cancelJob, job, lease, logger)

	metrics.JobsRunning.Inc()
	started := time.Now()
	path, execErr := m.executor.Execute(jobCtx, job)
	metrics.JobsRunning.Dec()
	metrics.ObserveJobDuration(kind, time.Since(started).Seconds())

	cancelJob()
	hb.Wait()

	if lost := lease.err(); lost != nil {
		w.abandon(ctx, logger, job, lost, execErr == nil)
		return
	}

	if execErr != nil && ctx.Err() != nil {
		w.release(logger, job)
		return
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if execErr == nil {
		w.complete(storeCtx, logger, job, path, started)
		return
	}
	w.fail(storeCtx, logger, job, execErr)
}

func (w *worker) heartbeat(ctx context.Context, wg *sync.WaitGroup, cancelJob context.CancelFunc, job *queue.Job, lease *leaseState, logger *slog.Logger) {
	defer wg.Done()
	m := w.manager
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.store.RenewLease(ctx, job.ID, w.owner, time.Now().Add(m.leaseTimeout))
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrEntityGone), errors.Is(err, queue.ErrLeaseLost):
				lease.set(err)
				cancelJob()
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Warn("lease renewal failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "lease_renew_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}

// abandon handles a job whose entity is gone or whose lease moved on.
func (w *worker) abandon(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error, produced bool) {
	kind := string(job.Kind)
	if errors.Is(cause, queue.ErrEntityGone) {
		if err := w.manager.executor.Discard(job); err != nil {
			logger.Warn("failed to discard output of deleted entity",
				logging.Error(err),
				logging.String(logging.FieldEventType, "discard_failed"),
				logging.String(logging.FieldErrorHint, "the reconciler removes orphaned directories"),
			)
		}
		outcome := "dropped"
		if produced {
			outcome = "discarded"
		}
		metrics.RecordJobOutcome(kind, outcome)
		logger.Info("entity deleted; job result discarded",
			logging.Bool("produced_output", produced),
			logging.String(logging.FieldEventType, "job_"+outcome),
		)
		return
	}
	if errors.Is(cause, queue.ErrLeaseLost) {
		metrics.RecordJobOutcome(kind, "lease_lost")
		logger.Warn("job lease lost; result not recorded",
			logging.String(logging.FieldEventType, "lease_lost"),
			logging.String(logging.FieldErrorHint, "increase workflow.lease_timeout if jobs outlive their lease"),
		)
		return
	}
	if ctx.Err() != nil {
		w.release(logger, job)
		return
	}
	w.manager.setLastError(cause)
	logger.Error("job start check failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "job_start_failed"),
		logging.String(logging.FieldErrorHint, "the lease reclaimer will requeue the job"),
	)
}

func (w *worker) release(logger *slog.Logger, job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := w.manager.store.ReleaseJob(ctx, job.ID, w.owner); err != nil && !errors.Is(err, queue.ErrEntityGone) {
		logger.Warn("failed to release job on shutdown",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_release_failed"),
			logging.String(logging.FieldErrorHint, "the lease reclaimer will requeue the job"),
		)
		return
	}
	logger.Info("job released on shutdown", logging.String(logging.FieldEventType, "job_released"))
}

func (w *worker) complete(ctx context.Context, logger *slog.Logger, job *queue.Job, path string, started time.Time) {
	err := w.manager.store.CompleteJob(ctx, job.ID, w.owner, path)
	switch {
	case err == nil:
		metrics.RecordJobOutcome(string(job.Kind), "succeeded")
		logger.Info("job succeeded",
			logging.String("artifact", path),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldEventType, "job_succeeded"),
		)
	case errors.Is(err, queue.ErrEntityGone), errors.Is(err, queue.ErrLeaseLost):
		w.abandon(ctx, logger, job, err, true)
	default:
		w.manager.setLastError(err)
		logger.Error("failed to record job result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_complete_failed"),
			logging.String(logging.FieldErrorHint, "the lease reclaimer will requeue the job"),
		)
	}
}

func (w *worker) fail(ctx context.Context, logger *slog.Logger, job *queue.Job, execErr error) {
	m := w.manager
	details := services.Details(execErr)
	attrs := []logging.Attr{
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.Error(execErr),
	}

	var err error
	if services.Retryable(execErr) && job.Attempts < m.maxAttempts {
		delay := m.retryDelay(job.Attempts)
		err = m.store.RetryJob(ctx, job.ID, w.owner, details.Message, time.Now().Add(delay))
		if err == nil {
			metrics.RecordJobOutcome(string(job.Kind), "retry")
			attrs = append(attrs,
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldEventType, "job_retry_scheduled"),
			)
			logger.Warn("job failed; retry scheduled", logging.Args(attrs...)...)
			return
		}
	} else {
		err = m.store.FailJob(ctx, job.ID, w.owner, details.Message)
		if err == nil {
			metrics.RecordJobOutcome(string(job.Kind), "failed")
			attrs = append(attrs,
				logging.Alert("job_failure"),
				logging.String(logging.FieldEventType, "job_failed"),
				logging.String(logging.FieldErrorHint, "inspect the source file and ffmpeg stderr, then run vidpipe retry"),
			)
			logger.Error("job failed", logging.Args(attrs...)...)
			return
		}
	}

	if errors.Is(err, queue.ErrEntityGone) || errors.Is(err, queue.ErrLeaseLost) {
		w.abandon(ctx, logger, job, err, false)
		return
	}
	m.setLastError(err)
	logger.Error("failed to record job failure",
		logging.Error(err),
		logging.String(logging.FieldEventType, "job_fail_record_failed"),
		logging.String(logging.FieldErrorHint, "the lease reclaimer will requeue the job"),
	)
}
