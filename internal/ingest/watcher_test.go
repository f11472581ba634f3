package ingest_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vidpipe/internal/config"
	"vidpipe/internal/ingest"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
	"vidpipe/internal/testsupport"
)

type upload struct {
	ID     string
	Source string
}

type recordingUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (u *recordingUploader) OnUpload(_ context.Context, id, source string) (*queue.Entity, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, upload{ID: id, Source: source})
	if u.err != nil {
		return nil, u.err
	}
	return &queue.Entity{ID: id, SourcePath: source}, nil
}

func (u *recordingUploader) snapshot() []upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upload(nil), u.uploads...)
}

func newWatcher(t *testing.T, uploader ingest.Uploader) (*ingest.Watcher, *config.Config, *layout.Resolver) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.Extensions = []string{".mp4", "mkv"}
	cfg.Ingest.SettleSeconds = 0
	resolver, err := layout.New(cfg.Paths.MediaRoot)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	w := ingest.New(cfg, resolver, uploader, logging.NewNop())
	var (
		mu sync.Mutex
		n  int
	)
	w.SetIDFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("clip-%d", n)
	})
	return w, cfg, resolver
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherIngestsNewFiles(t *testing.T) {
	uploader := &recordingUploader{}
	w, cfg, resolver := newWatcher(t, uploader)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "notes.txt"), 10)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "Holiday.MP4"), 2048)

	waitFor(t, func() bool { return len(uploader.snapshot()) == 1 })

	want := []upload{{ID: "clip-1", Source: filepath.Join(resolver.OriginalsDir(), "clip-1.mp4")}}
	if diff := cmp.Diff(want, uploader.snapshot()); diff != "" {
		t.Fatalf("uploads mismatch (-want +got):\n%s", diff)
	}
	if !testsupport.Exists(want[0].Source) {
		t.Fatal("source not moved into originals")
	}
	if testsupport.Exists(filepath.Join(cfg.Paths.WatchDir, "Holiday.MP4")) {
		t.Fatal("watched file left behind")
	}
	if !testsupport.Exists(filepath.Join(cfg.Paths.WatchDir, "notes.txt")) {
		t.Fatal("ignored file should stay in place")
	}
}

func TestWatcherPicksUpExistingFiles(t *testing.T) {
	uploader := &recordingUploader{}
	w, cfg, _ := newWatcher(t, uploader)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "early.mkv"), 512)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return len(uploader.snapshot()) == 1 })
	if got := filepath.Ext(uploader.snapshot()[0].Source); got != ".mkv" {
		t.Fatalf("extension = %q", got)
	}
}

func TestIngestRejectedFileIsSetAside(t *testing.T) {
	uploader := &recordingUploader{err: services.Wrap(services.ErrValidation, "pipeline", "upload", "bad source", nil)}
	w, cfg, resolver := newWatcher(t, uploader)
	path := filepath.Join(cfg.Paths.WatchDir, "broken.mp4")
	testsupport.WriteFile(t, path, 64)

	if err := w.Ingest(context.Background(), path); err == nil {
		t.Fatal("expected rejection error")
	}
	if !testsupport.Exists(path + ".rejected") {
		t.Fatal("rejected file not set aside")
	}
	if testsupport.Exists(filepath.Join(resolver.OriginalsDir(), "clip-1.mp4")) {
		t.Fatal("rejected file left in originals")
	}
	if w.Accepts(path + ".rejected") {
		t.Fatal("rejected files must not be picked up again")
	}
}

func TestIngestKeepsSourceWhenDispatchFails(t *testing.T) {
	uploader := &recordingUploader{err: services.Wrap(services.ErrEnqueue, "dispatch", "enqueue", "db down", nil)}
	w, cfg, resolver := newWatcher(t, uploader)
	path := filepath.Join(cfg.Paths.WatchDir, "clip.mp4")
	testsupport.WriteFile(t, path, 64)

	if err := w.Ingest(context.Background(), path); err == nil {
		t.Fatal("expected enqueue error")
	}
	if !testsupport.Exists(filepath.Join(resolver.OriginalsDir(), "clip-1.mp4")) {
		t.Fatal("entity source must stay in originals")
	}
}

func TestAccepts(t *testing.T) {
	w, _, _ := newWatcher(t, &recordingUploader{})
	tests := map[string]bool{
		"a.mp4":        true,
		"b.MKV":        true,
		".hidden.mp4":  false,
		"c.mov":        false,
		"d.mp4.part":   false,
		"no-extension": false,
	}
	for name, want := range tests {
		if got := w.Accepts(name); got != want {
			t.Errorf("Accepts(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestStartRequiresWatchDir(t *testing.T) {
	_, cfg, resolver := newWatcher(t, &recordingUploader{})
	cfg.Paths.WatchDir = ""
	w := ingest.New(cfg, resolver, &recordingUploader{}, logging.NewNop())
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error without watch dir")
	}
}
