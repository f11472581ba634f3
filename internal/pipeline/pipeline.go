// Package pipeline is the event contract between the upstream entity owner
// and the transcoding pipeline: OnUpload starts processing, OnDelete removes
// everything derived from an entity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vidpipe/internal/cleanup"
	"vidpipe/internal/dispatch"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

const component = "pipeline"

// Dispatcher enqueues the jobs of a newly uploaded entity.
type Dispatcher interface {
	Dispatch(ctx context.Context, entityID, sourcePath string) ([]queue.Job, error)
}

var _ Dispatcher = (*dispatch.Dispatcher)(nil)

// Pipeline handles entity lifecycle events.
type Pipeline struct {
	store       *queue.Store
	dispatcher  Dispatcher
	coordinator *cleanup.Coordinator
	sourceRoots []string
	logger      *slog.Logger
}

// New builds a Pipeline. Upload sources must resolve to a file inside one of
// sourceRoots; deleting the entity later removes that file.
func New(store *queue.Store, dispatcher Dispatcher, coordinator *cleanup.Coordinator, sourceRoots []string, logger *slog.Logger) *Pipeline {
	roots := make([]string, 0, len(sourceRoots))
	for _, root := range sourceRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		roots = append(roots, root)
	}
	return &Pipeline{
		store:       store,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		sourceRoots: roots,
		logger:      logging.NewComponentLogger(logger, component),
	}
}

// SourceRoots returns the originals directory followed by extra.
func SourceRoots(resolver *layout.Resolver, extra []string) []string {
	return append([]string{resolver.OriginalsDir()}, extra...)
}

// OnUpload registers the entity and enqueues its jobs. When enqueueing fails
// the entity is marked failed and the ErrEnqueue error is returned.
func (p *Pipeline) OnUpload(ctx context.Context, entityID, sourcePath string) (*queue.Entity, error) {
	if err := layout.ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "upload", fmt.Sprintf("source %q is not readable", sourcePath), err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, component, "upload", fmt.Sprintf("source %q is a directory", sourcePath), nil)
	}
	if !p.allowedSource(sourcePath) {
		return nil, services.Wrap(services.ErrValidation, component, "upload", fmt.Sprintf("source %q is outside the configured source roots", sourcePath), nil)
	}

	ctx = services.WithEntityID(ctx, entityID)
	logger := logging.WithContext(ctx, p.logger)

	if _, err := p.store.CreateEntity(ctx, entityID, sourcePath); err != nil {
		return nil, err
	}
	if _, err := p.dispatcher.Dispatch(ctx, entityID, sourcePath); err != nil {
		if markErr := p.store.MarkDispatchFailed(context.WithoutCancel(ctx), entityID, err.Error()); markErr != nil {
			logger.Warn("failed to mark entity failed after enqueue error",
				logging.Error(markErr),
				logging.String(logging.FieldEventType, "dispatch_mark_failed"),
			)
		}
		return nil, err
	}
	logger.Info("upload accepted",
		logging.String("source", sourcePath),
		logging.String(logging.FieldEventType, "upload_accepted"),
	)
	return p.store.GetEntity(ctx, entityID)
}

// OnDelete tombstones the entity and removes its files regardless of how far
// processing got.
func (p *Pipeline) OnDelete(ctx context.Context, entityID string) error {
	return p.coordinator.Cleanup(ctx, entityID)
}

// Entity returns the live entity or an error matching services.ErrNotFound.
func (p *Pipeline) Entity(ctx context.Context, entityID string) (*queue.Entity, error) {
	if err := layout.ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	entity, err := p.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, services.Wrap(services.ErrNotFound, component, "lookup", fmt.Sprintf("entity %q", entityID), nil)
	}
	return entity, nil
}

// allowedSource reports whether path, with symlinks resolved, lies strictly
// inside one of the source roots.
func (p *Pipeline) allowedSource(path string) bool {
	resolved := resolvePath(path)
	for _, root := range p.sourceRoots {
		rel, err := filepath.Rel(resolvePath(root), resolved)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
			continue
		}
		return true
	}
	return false
}

func resolvePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return filepath.Clean(path)
}

// IsConflict reports whether err means the entity id is already in use.
func IsConflict(err error) bool {
	return errors.Is(err, queue.ErrEntityExists) || errors.Is(err, queue.ErrAlreadyDispatched)
}
