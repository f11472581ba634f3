package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/queue"
)

// Report summarises one reconcile pass.
type Report struct {
	CleanupsRetried  int
	CleanupsFailed   int
	OrphansRemoved   int
	TombstonesPurged int
}

// Reconciler repairs drift between the media tree and the entity records on a
// cron schedule: it retries failed cleanups, removes artifact directories
// that belong to no live entity and purges old tombstones.
type Reconciler struct {
	store       *queue.Store
	coordinator *Coordinator
	resolver    *layout.Resolver
	schedule    string
	retention   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	afterSnapshot func()

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler builds a Reconciler. retention is how long completed
// tombstones are kept before their rows are purged.
func NewReconciler(store *queue.Store, coordinator *Coordinator, resolver *layout.Resolver, schedule string, retention time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		coordinator: coordinator,
		resolver:    resolver,
		schedule:    schedule,
		retention:   retention,
		logger:      logging.NewComponentLogger(logger, "reconciler"),
		now:         time.Now,
	}
}

// Start schedules RunOnce. Overlapping runs are skipped.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reconciler already running")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("reconcile pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "reconcile_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access and media root permissions"),
			)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reconciler scheduled", logging.String("schedule", r.schedule))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunOnce performs a single reconcile pass. Individual failures are logged and
// counted; only queue access errors abort the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	started := r.now()

	pending, err := r.store.PendingCleanups(ctx)
	if err != nil {
		return report, err
	}
	for _, entity := range pending {
		if err := r.coordinator.Cleanup(ctx, entity.ID); err != nil {
			report.CleanupsFailed++
			continue
		}
		report.CleanupsRetried++
	}
	metrics.RecordReconcileRemoval("cleanup_retry", report.CleanupsRetried)

	live, err := r.store.LiveEntityIDs(ctx)
	if err != nil {
		return report, err
	}
	if r.afterSnapshot != nil {
		r.afterSnapshot()
	}
	report.OrphansRemoved = r.removeOrphans(ctx, live, started)
	metrics.RecordReconcileRemoval("orphan_dir", report.OrphansRemoved)

	if r.retention > 0 {
		purged, err := r.store.PurgeTombstones(ctx, r.now().Add(-r.retention))
		if err != nil {
			return report, err
		}
		report.TombstonesPurged = purged
		metrics.RecordReconcileRemoval("tombstone", purged)
	}

	if report != (Report{}) {
		r.logger.Info("reconcile pass complete",
			logging.Int("cleanups_retried", report.CleanupsRetried),
			logging.Int("cleanups_failed", report.CleanupsFailed),
			logging.Int("orphans_removed", report.OrphansRemoved),
			logging.Int("tombstones_purged", report.TombstonesPurged),
			logging.String(logging.FieldEventType, "reconcile_complete"),
		)
	}
	return report, nil
}

// removeOrphans deletes artifact and staging directories whose entity id is
// not live. Staging directories of live entities belong to running jobs and
// are left alone. live is only a snapshot: directories modified after started
// are skipped and every candidate is checked against the store again before
// removal, so entities created during the pass keep their output.
func (r *Reconciler) removeOrphans(ctx context.Context, live map[string]struct{}, started time.Time) int {
	removed := 0
	for _, parent := range r.resolver.ArtifactParents() {
		entries, err := os.ReadDir(parent)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("failed to list artifact directory", logging.String("path", parent), logging.Error(err))
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			id := layout.StagingOwner(entry.Name())
			if _, ok := live[id]; ok {
				continue
			}
			path := filepath.Join(parent, entry.Name())
			if info, err := entry.Info(); err != nil || info.ModTime().After(started) {
				continue
			}
			if !r.orphaned(ctx, id) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				r.logger.Warn("failed to remove orphaned directory",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "orphan_remove_failed"),
				)
				continue
			}
			removed++
			r.logger.Info("removed orphaned directory",
				logging.String("path", path),
				logging.String(logging.FieldEntityID, id),
				logging.String(logging.FieldEventType, "orphan_removed"),
			)
		}
	}
	return removed
}

// orphaned reports whether id has no live entity right now. Lookup failures
// count as live.
func (r *Reconciler) orphaned(ctx context.Context, id string) bool {
	entity, err := r.store.FindEntity(ctx, id)
	if err != nil {
		r.logger.Warn("failed to confirm orphaned directory",
			logging.String(logging.FieldEntityID, id),
			logging.Error(err),
		)
		return false
	}
	return entity == nil || entity.Deleted()
}
