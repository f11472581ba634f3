package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidpipe/internal/config"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
	"vidpipe/internal/testsupport"
	"vidpipe/internal/workflow"
)

type fakeExecutor struct {
	mu        sync.Mutex
	calls     map[layout.Kind]int
	discarded []int64
	run       func(ctx context.Context, job *queue.Job, call int) (string, error)
}

func newFakeExecutor(run func(ctx context.Context, job *queue.Job, call int) (string, error)) *fakeExecutor {
	return &fakeExecutor{calls: make(map[layout.Kind]int), run: run}
}

func (f *fakeExecutor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	f.mu.Lock()
	f.calls[job.Kind]++
	call := f.calls[job.Kind]
	f.mu.Unlock()
	return f.run(ctx, job, call)
}

func (f *fakeExecutor) Discard(job *queue.Job) error {
	f.mu.Lock()
	f.discarded = append(f.discarded, job.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) callCount(kind layout.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeExecutor) discardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discarded)
}

func succeed(_ context.Context, job *queue.Job, _ int) (string, error) {
	return "/media/" + job.EntityID + "/" + string(job.Kind), nil
}

func startManager(t *testing.T, cfg *config.Config, store *queue.Store, exec workflow.Executor) *workflow.Manager {
	t.Helper()
	mgr := workflow.NewManager(cfg, store, exec, logging.NewNop())
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.EntityStatus) *queue.Entity {
	t.Helper()
	var entity *queue.Entity
	waitFor(t, "entity "+id+" to reach "+string(want), func() bool {
		got, err := store.GetEntity(context.Background(), id)
		if err != nil {
			t.Fatalf("GetEntity: %v", err)
		}
		entity = got
		return got != nil && got.Status == want
	})
	return entity
}

func enqueue(t *testing.T, store *queue.Store, entity *queue.Entity, kinds ...layout.Kind) {
	t.Helper()
	if len(kinds) == 0 {
		kinds = layout.AllKinds()
	}
	if _, err := store.EnqueueJobs(context.Background(), entity.ID, entity.SourcePath, kinds); err != nil {
		t.Fatalf("EnqueueJobs: %v", err)
	}
}

func TestManagerProducesAllArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	exec, err := workflow.NewMediaExecutorFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewMediaExecutorFromConfig: %v", err)
	}
	enqueue(t, store, entity)
	startManager(t, cfg, store, exec)

	ready := waitForStatus(t, store, "42", queue.EntityReady)
	resolver, err := layout.New(cfg.Paths.MediaRoot)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	for _, kind := range layout.AllKinds() {
		want, _ := resolver.Resolve("42", kind)
		artifact := ready.Artifacts[kind]
		if artifact.State != queue.ArtifactSucceeded || artifact.Path != want {
			t.Fatalf("artifact %s = %+v, want path %s", kind, artifact, want)
		}
		if info, err := os.Stat(want); err != nil || info.Size() == 0 {
			t.Fatalf("artifact %s missing on disk: %v", kind, err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(cfg.Paths.MediaRoot, "*", "*", "*.partial-*"))
	if len(matches) != 0 {
		t.Fatalf("staging directories left behind: %v", matches)
	}
}

func TestManagerIsolatesFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	t.Setenv(testsupport.EnvFFmpegFail, "1280x720")
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	exec, err := workflow.NewMediaExecutorFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewMediaExecutorFromConfig: %v", err)
	}
	enqueue(t, store, entity)
	startManager(t, cfg, store, exec)

	got := waitForStatus(t, store, "42", queue.EntityPartiallyFailed)
	for _, kind := range layout.AllKinds() {
		artifact := got.Artifacts[kind]
		if kind == layout.Kind720p {
			if artifact.State != queue.ArtifactFailed || artifact.Path != "" || artifact.Error == "" {
				t.Fatalf("720p artifact = %+v", artifact)
			}
			continue
		}
		if artifact.State != queue.ArtifactSucceeded {
			t.Fatalf("artifact %s = %+v", kind, artifact)
		}
	}
	if testsupport.Exists(filepath.Join(cfg.Paths.MediaRoot, "hls", "720p", "42")) {
		t.Fatal("failed rendition left an output directory")
	}

	jobs, err := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42", Statuses: []queue.JobStatus{queue.JobFailed}})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Attempts != 1 {
		t.Fatalf("encoding failures must not be retried: %+v", jobs)
	}
}

func TestManagerRunsEntitiesInParallel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	store := testsupport.MustOpenStore(t, cfg)
	first := testsupport.NewEntity(t, store, cfg, "a")
	second := testsupport.NewEntity(t, store, cfg, "b")
	enqueue(t, store, first, layout.Kind480p)
	enqueue(t, store, second, layout.Kind480p)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	barrier := make(chan struct{})
	var once sync.Once
	exec := newFakeExecutor(func(ctx context.Context, job *queue.Job, call int) (string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		if running == 2 {
			once.Do(func() { close(barrier) })
		}
		mu.Unlock()
		select {
		case <-barrier:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		mu.Lock()
		running--
		mu.Unlock()
		return succeed(ctx, job, call)
	})
	startManager(t, cfg, store, exec)

	for _, id := range []string{"a", "b"} {
		waitFor(t, "job of "+id, func() bool {
			jobs, _ := store.ListJobs(context.Background(), queue.JobFilter{EntityID: id, Statuses: []queue.JobStatus{queue.JobSucceeded}})
			return len(jobs) == 1
		})
	}
	mu.Lock()
	defer mu.Unlock()
	if peak != 2 {
		t.Fatalf("expected both entities to run concurrently, peak=%d", peak)
	}
}

func TestManagerRetriesTransientFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	enqueue(t, store, entity, layout.KindThumbnail)

	exec := newFakeExecutor(func(ctx context.Context, job *queue.Job, call int) (string, error) {
		if call == 1 {
			return "", services.Wrap(services.ErrTransient, "test", "spawn", "fork failed", nil)
		}
		return succeed(ctx, job, call)
	})
	startManager(t, cfg, store, exec)

	waitFor(t, "thumbnail artifact", func() bool {
		got, _ := store.GetEntity(context.Background(), "42")
		return got != nil && got.Artifacts[layout.KindThumbnail].State == queue.ArtifactSucceeded
	})
	jobs, err := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != queue.JobSucceeded || jobs[0].Attempts != 2 {
		t.Fatalf("unexpected job after retry: %+v", jobs)
	}
}

func TestManagerStopsRetryingAfterMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	enqueue(t, store, entity, layout.Kind1080p)

	exec := newFakeExecutor(func(context.Context, *queue.Job, int) (string, error) {
		return "", services.Wrap(services.ErrTimeout, "test", "encode", "deadline exceeded", nil)
	})
	startManager(t, cfg, store, exec)

	waitFor(t, "job to fail", func() bool {
		jobs, _ := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42", Statuses: []queue.JobStatus{queue.JobFailed}})
		return len(jobs) == 1
	})
	if calls := exec.callCount(layout.Kind1080p); calls != cfg.Workflow.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", cfg.Workflow.MaxAttempts, calls)
	}
	got, err := store.GetEntity(context.Background(), "42")
	if err != nil || got == nil {
		t.Fatalf("GetEntity: %+v, %v", got, err)
	}
	if artifact := got.Artifacts[layout.Kind1080p]; artifact.State != queue.ArtifactFailed || artifact.Path != "" {
		t.Fatalf("1080p artifact = %+v", artifact)
	}
}

func TestManagerDiscardsResultOfDeletedEntity(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	enqueue(t, store, entity, layout.Kind480p)

	started := make(chan struct{})
	release := make(chan struct{})
	exec := newFakeExecutor(func(ctx context.Context, job *queue.Job, call int) (string, error) {
		close(started)
		select {
		case <-release:
			return succeed(ctx, job, call)
		case <-ctx.Done():
			return "", services.Wrap(services.ErrTransient, "test", "encode", "canceled", ctx.Err())
		}
	})
	startManager(t, cfg, store, exec)

	<-started
	if _, err := store.Tombstone(context.Background(), "42"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	close(release)

	waitFor(t, "output discard", func() bool { return exec.discardCount() == 1 })
	found, err := store.FindEntity(context.Background(), "42")
	if err != nil {
		t.Fatalf("FindEntity: %v", err)
	}
	if path := found.Artifacts[layout.Kind480p].Path; path != "" {
		t.Fatalf("artifact recorded for deleted entity: %s", path)
	}
	jobs, err := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("jobs of deleted entity remain: %+v", jobs)
	}
}

func TestManagerSkipsJobsDeletedBeforeStart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	deleted := testsupport.NewEntity(t, store, cfg, "gone")
	live := testsupport.NewEntity(t, store, cfg, "live")
	enqueue(t, store, deleted)
	if _, err := store.Tombstone(context.Background(), "gone"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	enqueue(t, store, live, layout.KindThumbnail)

	exec := newFakeExecutor(func(ctx context.Context, job *queue.Job, call int) (string, error) {
		if job.EntityID == "gone" {
			t.Errorf("job of deleted entity executed: %+v", job)
		}
		return succeed(ctx, job, call)
	})
	startManager(t, cfg, store, exec)

	waitFor(t, "live thumbnail", func() bool {
		got, _ := store.GetEntity(context.Background(), "live")
		return got != nil && got.Artifacts[layout.KindThumbnail].State == queue.ArtifactSucceeded
	})
}

func TestManagerStopReleasesRunningJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	enqueue(t, store, entity, layout.Kind720p)

	started := make(chan struct{})
	exec := newFakeExecutor(func(ctx context.Context, job *queue.Job, call int) (string, error) {
		close(started)
		<-ctx.Done()
		return "", services.Wrap(services.ErrTransient, "test", "encode", "interrupted", ctx.Err())
	})
	mgr := workflow.NewManager(cfg, store, exec, logging.NewNop())
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	mgr.Stop()

	if mgr.Running() {
		t.Fatal("manager still running after Stop")
	}
	jobs, err := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != queue.JobPending || jobs[0].Attempts != 0 || jobs[0].LeaseOwner != "" {
		t.Fatalf("job not released: %+v", jobs)
	}
}

func TestManagerStartTwice(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := startManager(t, cfg, store, newFakeExecutor(succeed))
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestWakeInterruptsIdleWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	cfg.Workflow.QueuePollInterval = 60
	store := testsupport.MustOpenStore(t, cfg)
	mgr := startManager(t, cfg, store, newFakeExecutor(succeed))

	time.Sleep(100 * time.Millisecond)
	entity := testsupport.NewEntity(t, store, cfg, "42")
	enqueue(t, store, entity, layout.KindThumbnail)
	mgr.Wake()

	waitFor(t, "woken worker", func() bool {
		jobs, _ := store.ListJobs(context.Background(), queue.JobFilter{EntityID: "42", Statuses: []queue.JobStatus{queue.JobSucceeded}})
		return len(jobs) == 1
	})
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 10 * time.Minute},
		{40, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := workflow.RetryDelay(30*time.Second, 10*time.Minute, tt.attempt); got != tt.want {
			t.Fatalf("RetryDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
	if got := workflow.RetryDelay(0, time.Minute, 3); got != 0 {
		t.Fatalf("zero base must disable backoff, got %s", got)
	}
}

func TestMediaExecutorDiscardRemovesOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec, err := workflow.NewMediaExecutorFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewMediaExecutorFromConfig: %v", err)
	}
	dir := filepath.Join(cfg.Paths.MediaRoot, "hls", "480p", "42")
	testsupport.WriteFile(t, filepath.Join(dir, "index.m3u8"), 16)

	job := &queue.Job{EntityID: "42", Kind: layout.Kind480p}
	if err := exec.Discard(job); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if testsupport.Exists(dir) {
		t.Fatal("output directory still present")
	}
	if err := exec.Discard(job); err != nil {
		t.Fatalf("second Discard: %v", err)
	}

	_, err = exec.Execute(context.Background(), &queue.Job{EntityID: "42", Kind: layout.Kind("4k")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}
}
