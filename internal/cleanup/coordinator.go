package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"vidpipe/internal/config"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

const (
	component      = "cleanup"
	maxParallelRms = 4
)

// Coordinator deletes an entity's files after tombstoning it.
type Coordinator struct {
	store    *queue.Store
	resolver *layout.Resolver
	attempts int
	backoff  time.Duration
	logger   *slog.Logger

	removeAll func(path string) error
}

// NewCoordinator builds a Coordinator. attempts below one means a single try.
func NewCoordinator(store *queue.Store, resolver *layout.Resolver, attempts int, backoff time.Duration, logger *slog.Logger) *Coordinator {
	if attempts < 1 {
		attempts = 1
	}
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		attempts:  attempts,
		backoff:   backoff,
		logger:    logging.NewComponentLogger(logger, component),
		removeAll: os.RemoveAll,
	}
}

// NewCoordinatorFromConfig builds a Coordinator using the cleanup settings.
func NewCoordinatorFromConfig(cfg *config.Config, store *queue.Store, resolver *layout.Resolver, logger *slog.Logger) *Coordinator {
	return NewCoordinator(store, resolver, cfg.Cleanup.RetryAttempts, cfg.CleanupBackoff(), logger)
}

// Cleanup tombstones the entity, drops its queued jobs and removes the source
// file, every artifact directory and every staging directory of the entity.
// Absent paths are not errors and unknown ids still have their derivable
// paths removed. Remaining failures are joined into services.ErrCleanup and
// recorded on the tombstone. Calling Cleanup again is safe.
func (c *Coordinator) Cleanup(ctx context.Context, entityID string) error {
	if err := layout.ValidateEntityID(entityID); err != nil {
		return err
	}
	ctx = services.WithEntityID(ctx, entityID)
	logger := logging.WithContext(ctx, c.logger)

	entity, err := c.store.Tombstone(ctx, entityID)
	if err != nil {
		metrics.RecordCleanup("incomplete")
		return services.Wrap(services.ErrCleanup, component, "tombstone", "", err)
	}

	targets, err := c.targets(entityID, entity)
	if err != nil {
		metrics.RecordCleanup("incomplete")
		return services.Wrap(services.ErrCleanup, component, "resolve paths", "", err)
	}

	failures := c.removeTargets(ctx, targets)
	if len(failures) > 0 {
		cleanupErr := services.Wrap(services.ErrCleanup, component, "remove",
			fmt.Sprintf("%d of %d paths not removed", len(failures), len(targets)), errors.Join(failures...))
		if entity != nil {
			if err := c.store.RecordCleanupResult(context.WithoutCancel(ctx), entityID, cleanupErr.Error()); err != nil {
				logger.Warn("failed to record cleanup failure",
					logging.Error(err),
					logging.String(logging.FieldEventType, "cleanup_record_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
		metrics.RecordCleanup("incomplete")
		logger.Error("cleanup incomplete",
			logging.Error(cleanupErr),
			logging.Int("failed_paths", len(failures)),
			logging.Alert("cleanup_failure"),
			logging.String(logging.FieldEventType, "cleanup_incomplete"),
			logging.String(logging.FieldErrorHint, "check media root permissions; the reconciler retries"),
		)
		return cleanupErr
	}

	if entity != nil && entity.CleanupError != "" {
		if err := c.store.RecordCleanupResult(ctx, entityID, ""); err != nil {
			logger.Warn("failed to clear cleanup failure", logging.Error(err))
		}
	}
	metrics.RecordCleanup("complete")
	logger.Info("entity cleaned up",
		logging.Int("paths", len(targets)),
		logging.Bool("known_entity", entity != nil),
		logging.String(logging.FieldEventType, "cleanup_complete"),
	)
	return nil
}

// targets lists the paths owned by the entity, sorted for stable logs.
func (c *Coordinator) targets(entityID string, entity *queue.Entity) ([]string, error) {
	dirs, err := c.resolver.EntityDirs(entityID)
	if err != nil {
		return nil, err
	}
	targets := append([]string(nil), dirs...)
	for _, kind := range layout.AllKinds() {
		pattern, err := c.resolver.StagingPattern(entityID, kind)
		if err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		targets = append(targets, matches...)
	}
	if entity != nil && entity.SourcePath != "" {
		targets = append(targets, entity.SourcePath)
	}
	sort.Strings(targets)
	return targets, nil
}

func (c *Coordinator) removeTargets(ctx context.Context, targets []string) []error {
	results := make([]error, len(targets))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelRms)
	for i, target := range targets {
		group.Go(func() error {
			results[i] = c.removeWithRetry(groupCtx, target)
			return nil
		})
	}
	_ = group.Wait()

	var failures []error
	for _, err := range results {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func (c *Coordinator) removeWithRetry(ctx context.Context, path string) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = c.removeAll(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("remove %s: %w", path, ctx.Err())
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("remove %s: %w", path, err)
}
