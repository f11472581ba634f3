package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidpipe/internal/cleanup"
	"vidpipe/internal/config"
	"vidpipe/internal/dispatch"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/pipeline"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
	"vidpipe/internal/testsupport"
	"vidpipe/internal/workflow"
)

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	resolver *layout.Resolver
	manager  *workflow.Manager
	pipe     *pipeline.Pipeline
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)...)
	store := testsupport.MustOpenStore(t, cfg)
	resolver, err := layout.New(cfg.Paths.MediaRoot)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	exec, err := workflow.NewMediaExecutorFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewMediaExecutorFromConfig: %v", err)
	}
	manager := workflow.NewManager(cfg, store, exec, logging.NewNop())
	pipe := pipeline.New(
		store,
		dispatch.New(store, manager, logging.NewNop()),
		cleanup.NewCoordinatorFromConfig(cfg, store, resolver, logging.NewNop()),
		pipeline.SourceRoots(resolver, cfg.Paths.SourceRoots),
		logging.NewNop(),
	)
	return &harness{cfg: cfg, store: store, resolver: resolver, manager: manager, pipe: pipe}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) upload(t *testing.T, id string) string {
	t.Helper()
	source := testsupport.SourcePath(h.cfg, id)
	testsupport.WriteFile(t, source, 2048)
	if _, err := h.pipe.OnUpload(context.Background(), id, source); err != nil {
		t.Fatalf("OnUpload: %v", err)
	}
	return source
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.EntityStatus) *queue.Entity {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for {
		entity, err := store.GetEntity(context.Background(), id)
		if err != nil {
			t.Fatalf("GetEntity: %v", err)
		}
		if entity != nil && entity.Status == want {
			return entity
		}
		if time.Now().After(deadline) {
			t.Fatalf("entity %s never reached %s (last: %+v)", id, want, entity)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestUploadThenDelete(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	source := h.upload(t, "42")

	entity := waitForStatus(t, h.store, "42", queue.EntityReady)
	want := map[layout.Kind]string{
		layout.Kind480p:      filepath.Join(h.cfg.Paths.MediaRoot, "hls", "480p", "42", "index.m3u8"),
		layout.Kind720p:      filepath.Join(h.cfg.Paths.MediaRoot, "hls", "720p", "42", "index.m3u8"),
		layout.Kind1080p:     filepath.Join(h.cfg.Paths.MediaRoot, "hls", "1080p", "42", "index.m3u8"),
		layout.KindThumbnail: filepath.Join(h.cfg.Paths.MediaRoot, "thumbnails", "42", "42_thumb.png"),
	}
	for kind, path := range want {
		if got := entity.Artifacts[kind].Path; got != path {
			t.Fatalf("artifact %s = %q, want %q", kind, got, path)
		}
		if !testsupport.Exists(path) {
			t.Fatalf("artifact %s missing at %s", kind, path)
		}
	}

	if err := h.pipe.OnDelete(context.Background(), "42"); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	dirs, _ := h.resolver.EntityDirs("42")
	for _, path := range append(dirs, source) {
		if testsupport.Exists(path) {
			t.Fatalf("%s survived deletion", path)
		}
	}
	if _, err := h.pipe.Entity(context.Background(), "42"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteDuringProcessingLeavesNoArtifacts(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(4))
	t.Setenv(testsupport.EnvFFmpegSleep, "1")
	h.start(t)
	h.upload(t, "42")

	deadline := time.Now().Add(10 * time.Second)
	for {
		jobs, err := h.store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42", Statuses: []queue.JobStatus{queue.JobRunning}})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no job started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := h.pipe.OnDelete(context.Background(), "42"); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}

	deadline = time.Now().Add(15 * time.Second)
	for {
		jobs, err := h.store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42"})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs of deleted entity never drained: %+v", jobs)
		}
		time.Sleep(25 * time.Millisecond)
	}

	dirs, _ := h.resolver.EntityDirs("42")
	for _, dir := range dirs {
		if testsupport.Exists(dir) {
			t.Fatalf("%s recreated after deletion", dir)
		}
	}
	found, err := h.store.FindEntity(context.Background(), "42")
	if err != nil {
		t.Fatalf("FindEntity: %v", err)
	}
	for kind, artifact := range found.Artifacts {
		if artifact.Path != "" {
			t.Fatalf("artifact %s recorded after deletion", kind)
		}
	}
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.pipe.OnUpload(ctx, "../42", "/tmp/x.mp4"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unsafe id: %v", err)
	}
	if _, err := h.pipe.OnUpload(ctx, "42", filepath.Join(t.TempDir(), "missing.mp4")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing source: %v", err)
	}

	source := h.upload(t, "42")
	_, err := h.pipe.OnUpload(ctx, "42", source)
	if !pipeline.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate upload, got %v", err)
	}
	entity, err := h.pipe.Entity(ctx, "42")
	if err != nil || entity.Status != queue.EntityUploaded {
		t.Fatalf("Entity = %+v, %v", entity, err)
	}
	jobs, err := h.store.ListJobs(ctx, queue.JobFilter{EntityID: "42"})
	if err != nil || len(jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d (%v)", len(jobs), err)
	}
}

func TestUploadConfinedToSourceRoots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := testsupport.BaseDir(h.cfg)

	outside := filepath.Join(base, "elsewhere", "secret.mp4")
	testsupport.WriteFile(t, outside, 16)
	if _, err := h.pipe.OnUpload(ctx, "outside", outside); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("outside source: %v", err)
	}

	escape := filepath.Join(base, "uploads", "escape.mp4")
	if err := os.MkdirAll(filepath.Dir(escape), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(outside, escape); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if _, err := h.pipe.OnUpload(ctx, "escape", escape); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("symlinked source: %v", err)
	}

	dotdot := filepath.Join(base, "uploads", "..", "elsewhere", "secret.mp4")
	if _, err := h.pipe.OnUpload(ctx, "dotdot", dotdot); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("dot-dot source: %v", err)
	}

	original := filepath.Join(h.resolver.OriginalsDir(), "orig.mp4")
	testsupport.WriteFile(t, original, 16)
	if _, err := h.pipe.OnUpload(ctx, "orig", original); err != nil {
		t.Fatalf("originals source: %v", err)
	}

	if err := h.pipe.OnDelete(ctx, "outside"); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	if !testsupport.Exists(outside) {
		t.Fatal("rejected source was removed by delete")
	}
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) Dispatch(context.Context, string, string) ([]queue.Job, error) {
	return nil, f.err
}

func TestDispatchFailureMarksEntityFailed(t *testing.T) {
	h := newHarness(t)
	enqueueErr := services.Wrap(services.ErrEnqueue, "dispatch", "enqueue", "", errors.New("database is locked"))
	pipe := pipeline.New(h.store, failingDispatcher{err: enqueueErr},
		cleanup.NewCoordinatorFromConfig(h.cfg, h.store, h.resolver, logging.NewNop()),
		pipeline.SourceRoots(h.resolver, h.cfg.Paths.SourceRoots), logging.NewNop())

	source := testsupport.SourcePath(h.cfg, "42")
	testsupport.WriteFile(t, source, 16)
	if _, err := pipe.OnUpload(context.Background(), "42", source); !errors.Is(err, services.ErrEnqueue) {
		t.Fatalf("expected ErrEnqueue, got %v", err)
	}
	entity, err := pipe.Entity(context.Background(), "42")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	if entity.Status != queue.EntityFailed || entity.ErrorMessage == "" {
		t.Fatalf("entity after enqueue failure = %+v", entity)
	}
}
