package testsupport

import (
	"context"
	"testing"

	"vidpipe/internal/config"
	"vidpipe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEntity registers an entity whose source file exists on disk.
func NewEntity(t testing.TB, store *queue.Store, cfg *config.Config, id string) *queue.Entity {
	t.Helper()

	source := SourcePath(cfg, id)
	WriteFile(t, source, 1024)
	entity, err := store.CreateEntity(context.Background(), id, source)
	if err != nil {
		t.Fatalf("store.CreateEntity: %v", err)
	}
	return entity
}
