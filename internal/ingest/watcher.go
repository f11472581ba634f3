// Package ingest turns files dropped into the watch folder into uploads.
//
// A file is picked up once its size has stopped changing for the settle
// window. It is moved into the originals directory under a generated entity
// id and handed to the pipeline. Files the pipeline rejects are renamed with
// a ".rejected" suffix so they are not picked up again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"vidpipe/internal/config"
	"vidpipe/internal/fileutil"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
)

const rejectedSuffix = ".rejected"

// Uploader receives ingested files.
type Uploader interface {
	OnUpload(ctx context.Context, entityID, sourcePath string) (*queue.Entity, error)
}

type candidate struct {
	size     int64
	lastSeen time.Time
}

// Watcher watches a directory for new media files.
type Watcher struct {
	dir        string
	originals  string
	extensions map[string]struct{}
	settle     time.Duration
	uploader   Uploader
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]candidate
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Watcher from configuration.
func New(cfg *config.Config, resolver *layout.Resolver, uploader Uploader, logger *slog.Logger) *Watcher {
	exts := make(map[string]struct{}, len(cfg.Ingest.Extensions))
	for _, ext := range cfg.Ingest.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &Watcher{
		dir:        cfg.Paths.WatchDir,
		originals:  resolver.OriginalsDir(),
		extensions: exts,
		settle:     time.Duration(cfg.Ingest.SettleSeconds) * time.Second,
		uploader:   uploader,
		logger:     logging.NewComponentLogger(logger, "ingest"),
		newID:      uuid.NewString,
		now:        time.Now,
		pending:    make(map[string]candidate),
	}
}

// Start begins watching. Files already present are treated as new.
func (w *Watcher) Start(ctx context.Context) error {
	if strings.TrimSpace(w.dir) == "" {
		return errors.New("ingest: watch directory not configured")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create watch directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: fsnotify.NewWatcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("ingest: watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		_ = fsw.Close()
		return errors.New("ingest: watcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.scanExisting()
	go w.loop(runCtx, fsw, w.done)

	w.logger.Info("watch folder ingestion started",
		logging.String("dir", w.dir),
		logging.Duration("settle", w.settle),
		logging.String(logging.FieldEventType, "ingest_started"),
	)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer fsw.Close()

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.observe(event.Name)
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.forget(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify watcher error", logging.Error(err))
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) tick() time.Duration {
	tick := w.settle / 2
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return tick
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list watch directory", logging.String("dir", w.dir), logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.observe(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// Accepts reports whether name has an accepted media extension.
func (w *Watcher) Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

func (w *Watcher) observe(path string) {
	if !w.Accepts(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.pending[path]
	if ok && prev.size == info.Size() {
		return
	}
	w.pending[path] = candidate{size: info.Size(), lastSeen: w.now()}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// flush ingests candidates whose size has been stable for the settle window.
func (w *Watcher) flush(ctx context.Context) {
	now := w.now()
	var ready []string
	w.mu.Lock()
	for path, c := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != c.size {
			w.pending[path] = candidate{size: info.Size(), lastSeen: now}
			continue
		}
		if now.Sub(c.lastSeen) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		_ = w.Ingest(ctx, path)
	}
}

// Ingest moves path into the originals directory under a new entity id and
// submits it.
func (w *Watcher) Ingest(ctx context.Context, path string) error {
	id := w.newID()
	dest := filepath.Join(w.originals, id+strings.ToLower(filepath.Ext(path)))
	ctx = services.WithEntityID(ctx, id)
	logger := logging.WithContext(ctx, w.logger)

	if err := fileutil.MoveFile(path, dest); err != nil {
		metrics.RecordIngest("failed")
		logger.Warn("failed to move watched file",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ingest_move_failed"),
			logging.String(logging.FieldErrorHint, "check permissions on the watch and media directories"),
		)
		return err
	}

	if _, err := w.uploader.OnUpload(ctx, id, dest); err != nil {
		metrics.RecordIngest("rejected")
		// An entity that failed dispatch still owns its source; cleanup removes it.
		if !errors.Is(err, services.ErrEnqueue) {
			if moveErr := fileutil.MoveFile(dest, path+rejectedSuffix); moveErr != nil {
				logger.Warn("failed to return rejected file", logging.String("path", dest), logging.Error(moveErr))
			}
		}
		logger.Warn("watched file rejected",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Details(err).Kind),
			logging.String(logging.FieldEventType, "ingest_rejected"),
		)
		return err
	}

	metrics.RecordIngest("ingested")
	logger.Info("watched file ingested",
		logging.String("path", path),
		logging.String("source", dest),
		logging.String(logging.FieldEventType, "ingest_accepted"),
	)
	return nil
}
