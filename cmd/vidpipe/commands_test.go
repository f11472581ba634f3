package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidpipe/internal/api"
	"vidpipe/internal/testsupport"
)

func TestIngestStatusDelete(t *testing.T) {
	env := setupCLITestEnv(t)
	source := testsupport.SourcePath(env.cfg, "42")
	testsupport.WriteFile(t, source, 256)

	out, _, err := runCLI(t, []string{"ingest", "42", source}, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	requireContains(t, out, "Entity 42 queued with 4 jobs (Uploaded)")

	out, _, err = runCLI(t, []string{"status", "42"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Status:  Uploaded")
	requireContains(t, out, "1080p")
	requireContains(t, out, "thumbnail")

	out, _, err = runCLI(t, []string{"status", "42", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var entity api.Entity
	if err := json.Unmarshal([]byte(out), &entity); err != nil {
		t.Fatalf("decode status json: %v", err)
	}
	if entity.ID != "42" || len(entity.Artifacts) != 4 {
		t.Fatalf("unexpected entity %+v", entity)
	}

	if _, _, err := runCLI(t, []string{"ingest", "42", source}, env.configPath); err == nil {
		t.Fatal("expected duplicate ingest to fail")
	}

	out, _, err = runCLI(t, []string{"delete", "42"}, env.configPath)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	requireContains(t, out, "Entity 42 deleted")
	if testsupport.Exists(source) {
		t.Fatal("source survived delete")
	}

	if _, _, err := runCLI(t, []string{"status", "42"}, env.configPath); err == nil {
		t.Fatal("expected status of deleted entity to fail")
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"ingest", "a/b", "/tmp/x.mp4"}, env.configPath); err == nil {
		t.Fatal("expected unsafe id to fail")
	}
	if _, _, err := runCLI(t, []string{"ingest", "43", filepath.Join(t.TempDir(), "missing.mp4")}, env.configPath); err == nil {
		t.Fatal("expected missing source to fail")
	}
	if _, _, err := runCLI(t, []string{"ingest", "43"}, env.configPath); err == nil {
		t.Fatal("expected missing argument to fail")
	}
}

func TestJobsAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	source := testsupport.SourcePath(env.cfg, "7")
	testsupport.WriteFile(t, source, 64)
	if _, _, err := runCLI(t, []string{"ingest", "7", source}, env.configPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	out, _, err := runCLI(t, []string{"jobs", "--status", "pending"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	for _, kind := range []string{"480p", "720p", "1080p", "thumbnail"} {
		requireContains(t, out, kind)
	}
	requireContains(t, out, "Pending")

	out, _, err = runCLI(t, []string{"jobs", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs failed: %v", err)
	}
	requireContains(t, out, "No jobs found")

	if _, _, err := runCLI(t, []string{"jobs", "--status", "stuck"}, env.configPath); err == nil {
		t.Fatal("expected unknown status to fail")
	}

	store := testsupport.MustOpenStore(t, env.cfg)
	ctx := context.Background()
	job, err := store.Claim(ctx, "cli-test", time.Now().Add(time.Minute))
	if err != nil || job == nil {
		t.Fatalf("Claim: %v (job=%v)", err, job)
	}
	if err := store.FailJob(ctx, job.ID, "cli-test", "encoder exploded"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	out, _, err = runCLI(t, []string{"jobs", "--status", "failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs --json: %v", err)
	}
	var jobs []api.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].LastError != "encoder exploded" {
		t.Fatalf("unexpected failed jobs %+v", jobs)
	}

	if _, _, err := runCLI(t, []string{"retry", "abc"}, env.configPath); err == nil {
		t.Fatal("expected invalid job id to fail")
	}
	out, _, err = runCLI(t, []string{"retry"}, env.configPath)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Re-queued 1 job(s)")

	out, _, err = runCLI(t, []string{"retry"}, env.configPath)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	requireContains(t, out, "No failed jobs to retry")
}

func TestDoctorRendersTables(t *testing.T) {
	env := setupCLITestEnv(t)
	// Free space on the test filesystem decides the exit status, so only the
	// output is checked.
	out, _, _ := runCLI(t, []string{"doctor"}, env.configPath)
	requireContains(t, out, "FFmpeg")
	requireContains(t, out, "Queue database")
	requireContains(t, out, "Event API")
	requireContains(t, out, "Cleanup Pending")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "vidpipe.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init without --overwrite to fail")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.Paths.MediaRoot)
}

func TestStatusLabel(t *testing.T) {
	tests := map[string]string{
		"partially_failed": "Partially Failed",
		"ready":            "Ready",
		"":                 "Unknown",
	}
	for in, want := range tests {
		if got := statusLabel(in); got != want {
			t.Errorf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
	if got := paint("failed", true); !strings.HasPrefix(got, ansiRed) {
		t.Errorf("paint did not color failed status: %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
}
