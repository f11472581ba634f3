package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// HealthSummary aggregates queue state for diagnostic output.
type HealthSummary struct {
	Entities map[EntityStatus]int
	Jobs     map[JobStatus]int
	Deleted  int
	// CleanupPending counts tombstones whose last cleanup failed.
	CleanupPending int
}

// DatabaseHealth describes the queue database file and schema.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	Error            string
}

// Health aggregates entity and job counts.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	entities, err := s.EntityCounts(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	jobs, err := s.JobCounts(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{Entities: entities, Jobs: jobs}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN cleanup_error IS NOT NULL THEN 1 ELSE 0 END), 0)
         FROM entities WHERE deleted_at IS NOT NULL`)
	if err := row.Scan(&summary.Deleted, &summary.CleanupPending); err != nil {
		return HealthSummary{}, fmt.Errorf("tombstone counts: %w", err)
	}
	return summary, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	for _, table := range []string{"entities", "artifacts", "jobs", "retired_ids"} {
		var count int
		if err := s.db.QueryRowContext(connCtx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
		if count == 0 {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
