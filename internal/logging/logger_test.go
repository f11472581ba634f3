package logging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidpipe/internal/config"
	"vidpipe/internal/services"
)

func TestNewJSONWritesStructuredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("transcode finished", String(FieldEntityID, "42"), Int(FieldJobID, 7))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if entry["msg"] != "transcode finished" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level %v", entry["level"])
	}
	if entry[FieldEntityID] != "42" {
		t.Fatalf("missing entity id in %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key in %v", entry)
	}
}

func TestConsoleFormatIncludesComponentPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := New(Options{Level: "debug", Format: "console", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	NewComponentLogger(logger, "worker").Warn("lease lost", String(FieldKind, "720p"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "WARN worker: lease lost") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "kind=720p") {
		t.Fatalf("missing attribute in %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("file output must not be colorized: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.log")
	logger, err := New(Options{Level: "warn", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Error("shown", Error(errors.New("boom")))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("info line should be filtered: %q", data)
	}
	if !strings.Contains(string(data), "boom") {
		t.Fatalf("expected error line: %q", data)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", File: filepath.Join(t.TempDir(), "x.log")}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"

	logger, err := NewFromConfig(&cfg, "")
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("daemon started")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "vidpipe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon started") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestNewFromConfigLevelOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "info"

	logger, err := NewFromConfig(&cfg, "error")
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Warn("suppressed")
	logger.Error("kept")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "vidpipe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "suppressed") || !strings.Contains(string(data), "kept") {
		t.Fatalf("level override not applied: %q", data)
	}
}

func TestConsoleGroupsAndQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.log")
	logger, err := New(Options{Format: "console", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.With(String(FieldEntityID, "42")).WithGroup("ffmpeg").Info("exit", Int("code", 1), String("stderr", "no such file"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{"INFO exit", "entity_id=42", "ffmpeg.code=1", `ffmpeg.stderr="no such file"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
}

func TestWithContextAddsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := New(Options{Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithEntityID(context.Background(), "abc")
	ctx = services.WithKind(ctx, "thumbnail")

	WithContext(ctx, logger).Info("claimed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[FieldEntityID] != "abc" || entry[FieldKind] != "thumbnail" {
		t.Fatalf("context fields missing: %v", entry)
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := New(Options{Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	WarnWithContext(logger, "cleanup incomplete", "cleanup_failed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"event_type":"cleanup_failed"`) {
		t.Fatalf("missing event type: %q", data)
	}
	if !strings.Contains(string(data), `"error_hint"`) {
		t.Fatalf("missing error hint: %q", data)
	}
}
