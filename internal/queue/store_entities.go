package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidpipe/internal/layout"
)

// CreateEntity registers a new entity in the uploaded state with one pending
// artifact per kind. An id that is already in use, even by a tombstoned
// entity or one whose tombstone was purged, yields ErrEntityExists.
func (s *Store) CreateEntity(ctx context.Context, id, sourcePath string) (*Entity, error) {
	if err := layout.ValidateEntityID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sourcePath) == "" {
		return nil, errors.New("create entity: source path is required")
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT (SELECT COUNT(1) FROM entities WHERE id = ?) + (SELECT COUNT(1) FROM retired_ids WHERE id = ?)`,
			id, id,
		).Scan(&count); err != nil {
			return fmt.Errorf("check entity: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrEntityExists, id)
		}
		timestamp := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (id, source_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, sourcePath, EntityUploaded, timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		for _, kind := range layout.AllKinds() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO artifacts (entity_id, kind, state, updated_at) VALUES (?, ?, ?, ?)`,
				id, kind, ArtifactPending, timestamp,
			); err != nil {
				return fmt.Errorf("insert artifact %s: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindEntity(ctx, id)
}

// GetEntity returns the live entity with id, or nil when it is absent or
// tombstoned.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	entity, err := s.FindEntity(ctx, id)
	if err != nil || entity == nil || entity.Deleted() {
		return nil, err
	}
	return entity, nil
}

// FindEntity returns the entity with id including tombstoned ones, or nil.
func (s *Store) FindEntity(ctx context.Context, id string) (*Entity, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if err := s.loadArtifacts(ctx, s.db, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) loadArtifacts(ctx context.Context, q queryer, entity *Entity) error {
	rows, err := q.QueryContext(ctx,
		`SELECT kind, state, path, error_message, updated_at FROM artifacts WHERE entity_id = ?`, entity.ID)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return fmt.Errorf("scan artifact: %w", err)
		}
		entity.Artifacts[artifact.Kind] = artifact
	}
	return rows.Err()
}

// ListEntities returns entities ordered by creation time. Tombstoned
// entities are included only when includeDeleted is set.
func (s *Store) ListEntities(ctx context.Context, includeDeleted bool) ([]*Entity, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + entityColumns + ` FROM entities`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`
	return s.queryEntities(ctx, query)
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, entity := range entities {
		if err := s.loadArtifacts(ctx, s.db, entity); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// SetArtifact records a successful artifact path for a live entity and
// recomputes its status. Tombstoned or unknown entities yield ErrEntityGone.
func (s *Store) SetArtifact(ctx context.Context, id string, kind layout.Kind, path string) error {
	if !kind.Valid() {
		return fmt.Errorf("set artifact: unknown kind %q", kind)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveEntity(ctx, tx, id); err != nil {
			return err
		}
		if err := s.setArtifactTx(ctx, tx, id, kind, ArtifactSucceeded, path, ""); err != nil {
			return err
		}
		return s.recomputeStatusTx(ctx, tx, id)
	})
}

func (s *Store) setArtifactTx(ctx context.Context, tx *sql.Tx, id string, kind layout.Kind, state ArtifactState, path, errMsg string) error {
	if state != ArtifactSucceeded {
		path = ""
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (entity_id, kind, state, path, error_message, updated_at) VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (entity_id, kind) DO UPDATE SET
             state = excluded.state, path = excluded.path,
             error_message = excluded.error_message, updated_at = excluded.updated_at`,
		id, kind, state, nullableString(path), nullableString(truncateError(errMsg)), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("update artifact %s/%s: %w", id, kind, err)
	}
	return nil
}

func requireLiveEntity(ctx context.Context, tx *sql.Tx, id string) error {
	var deleted sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT deleted_at FROM entities WHERE id = ?`, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted.Valid) {
		return fmt.Errorf("%w: %s", ErrEntityGone, id)
	}
	if err != nil {
		return fmt.Errorf("check entity %s: %w", id, err)
	}
	return nil
}

// MarkDispatchFailed marks an entity failed after its jobs could not be enqueued.
func (s *Store) MarkDispatchFailed(ctx context.Context, id, message string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE entities SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		EntityFailed, nullableString(truncateError(message)), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark dispatch failed: %w", err)
	}
	return nil
}

// Tombstone marks the entity deleted and removes its queued (not running)
// jobs. It returns the entity as stored, or nil when the id is unknown.
// Tombstoning an already tombstoned entity is a no-op.
func (s *Store) Tombstone(ctx context.Context, id string) (*Entity, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			now, now, id,
		); err != nil {
			return fmt.Errorf("tombstone entity: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM jobs WHERE entity_id = ? AND status = ?`, id, JobPending,
		); err != nil {
			return fmt.Errorf("delete queued jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindEntity(ctx, id)
}

// RecordCleanupResult stores the outcome of the last cleanup attempt on a
// tombstoned entity. An empty message clears a previous failure.
func (s *Store) RecordCleanupResult(ctx context.Context, id, message string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE entities SET cleanup_error = ?, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`,
		nullableString(truncateError(message)), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("record cleanup result: %w", err)
	}
	return nil
}

// PendingCleanups lists tombstoned entities whose last cleanup failed.
func (s *Store) PendingCleanups(ctx context.Context) ([]*Entity, error) {
	return s.queryEntities(ensureContext(ctx),
		`SELECT `+entityColumns+` FROM entities WHERE deleted_at IS NOT NULL AND cleanup_error IS NOT NULL ORDER BY deleted_at, id`)
}

const purgeableTombstones = `deleted_at IS NOT NULL AND deleted_at < ? AND cleanup_error IS NULL
           AND NOT EXISTS (SELECT 1 FROM jobs WHERE jobs.entity_id = entities.id AND jobs.status = ?)`

// PurgeTombstones deletes tombstoned rows older than cutoff whose cleanup
// completed and that have no running job left. Purged ids move to
// retired_ids so they stay unavailable to CreateEntity.
func (s *Store) PurgeTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	ctx = ensureContext(ctx)
	var purged int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := []any{formatTime(cutoff), JobRunning}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO retired_ids (id, retired_at)
             SELECT id, ? FROM entities WHERE `+purgeableTombstones,
			append([]any{formatTime(s.now())}, args...)...,
		); err != nil {
			return fmt.Errorf("retire ids: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE `+purgeableTombstones, args...)
		if err != nil {
			return fmt.Errorf("purge tombstones: %w", err)
		}
		purged, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge tombstones rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(purged), nil
}

// LiveEntityIDs returns the ids of all entities without a tombstone.
func (s *Store) LiveEntityIDs(ctx context.Context) (map[string]struct{}, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entities WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("live entity ids: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// EntityCounts returns live entity counts grouped by status.
func (s *Store) EntityCounts(ctx context.Context) (map[EntityStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM entities WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("entity counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[EntityStatus]int)
	for rows.Next() {
		var status EntityStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
