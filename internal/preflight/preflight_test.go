package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidpipe/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.MediaRoot = filepath.Join(base, "media")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WatchDir = filepath.Join(base, "incoming")
	cfg.Ingest.WatchEnabled = false
	for _, dir := range []string{cfg.Paths.MediaRoot, cfg.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &cfg
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte minimum, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("space", dir, 1<<62); result.Passed {
		t.Fatal("expected failure with an impossible minimum")
	}
	if result := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckQueueDatabase(t *testing.T) {
	cfg := testConfig(t)
	result := CheckQueueDatabase(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass for fresh database, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "schema v") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bind := strings.TrimPrefix(srv.URL, "http://")
	if result := CheckAPI(context.Background(), bind); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckAPI(context.Background(), ""); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("unexpected result for disabled API: %+v", result)
	}
	srv.Close()
	if result := CheckAPI(context.Background(), bind); result.Passed {
		t.Fatal("expected failure once the server is gone")
	}
}

func TestDialAddress(t *testing.T) {
	tests := map[string]string{
		":7487":          "127.0.0.1:7487",
		"0.0.0.0:7487":   "127.0.0.1:7487",
		"10.0.0.5:7487":  "10.0.0.5:7487",
		"localhost:8080": "localhost:8080",
	}
	for in, want := range tests {
		if got := dialAddress(in); got != want {
			t.Errorf("dialAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_WatchDirOnlyWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	results := RunAll(context.Background(), cfg)
	for _, r := range results {
		if r.Name == "Watch directory" {
			t.Fatal("watch directory checked while ingestion disabled")
		}
		if r.Name == "Media root space" {
			continue
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}

	cfg.Ingest.WatchEnabled = true
	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) == 0 || failed[0].Name != "Watch directory" {
		t.Fatalf("expected missing watch directory to fail, got %+v", failed)
	}
}
