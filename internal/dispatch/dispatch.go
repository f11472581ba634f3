// Package dispatch fans an uploaded entity out into one transcoding job per
// resolution plus a thumbnail job.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

// Waker is notified after jobs are enqueued so idle workers poll immediately.
type Waker interface {
	Wake()
}

// Dispatcher enqueues the job set for an entity.
type Dispatcher struct {
	store  *queue.Store
	waker  Waker
	logger *slog.Logger
}

// New builds a Dispatcher. waker may be nil.
func New(store *queue.Store, waker Waker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, waker: waker, logger: logging.NewComponentLogger(logger, "dispatch")}
}

// Dispatch enqueues exactly one job per kind for the entity in a single
// transaction. Failures are wrapped in services.ErrEnqueue; nothing is
// enqueued when an error is returned. An entity that already has jobs yields
// queue.ErrAlreadyDispatched as well.
func (d *Dispatcher) Dispatch(ctx context.Context, entityID, sourcePath string) ([]queue.Job, error) {
	if err := layout.ValidateEntityID(entityID); err != nil {
		return nil, services.Wrap(services.ErrEnqueue, "dispatch", "validate", "invalid entity id", err)
	}
	if strings.TrimSpace(sourcePath) == "" {
		return nil, services.Wrap(services.ErrEnqueue, "dispatch", "validate", "source path is required", nil)
	}

	ctx = services.WithEntityID(ctx, entityID)
	logger := logging.WithContext(ctx, d.logger)

	created, err := d.store.EnqueueJobs(ctx, entityID, sourcePath, layout.AllKinds())
	if err != nil {
		if !errors.Is(err, queue.ErrAlreadyDispatched) {
			logger.Error("enqueue failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "enqueue_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return nil, services.Wrap(services.ErrEnqueue, "dispatch", "enqueue", "", err)
	}

	jobs := make([]queue.Job, 0, len(created))
	for _, job := range created {
		metrics.RecordDispatch(string(job.Kind))
		jobs = append(jobs, *job)
	}
	logger.Info("jobs enqueued",
		logging.Int("count", len(jobs)),
		logging.String(logging.FieldEventType, "jobs_enqueued"),
	)
	if d.waker != nil {
		d.waker.Wake()
	}
	return jobs, nil
}
