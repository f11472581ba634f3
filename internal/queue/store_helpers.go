package queue

import (
	"database/sql"
	"errors"
	"time"

	"vidpipe/internal/layout"
)

// timeLayout is fixed width so stored timestamps compare lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const entityColumns = "id, source_path, status, error_message, created_at, updated_at, deleted_at, cleanup_error"

const jobColumns = "id, entity_id, kind, source_path, status, attempts, available_at, lease_owner, lease_expires_at, last_error, created_at, updated_at"

type scanner interface{ Scan(dest ...any) error }

func scanEntity(row scanner) (*Entity, error) {
	var (
		id           string
		sourcePath   string
		status       string
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		deletedRaw   sql.NullString
		cleanupError sql.NullString
	)
	if err := row.Scan(&id, &sourcePath, &status, &errorMessage, &createdRaw, &updatedRaw, &deletedRaw, &cleanupError); err != nil {
		return nil, err
	}
	entity := &Entity{
		ID:           id,
		SourcePath:   sourcePath,
		Status:       EntityStatus(status),
		ErrorMessage: errorMessage.String,
		CleanupError: cleanupError.String,
		Artifacts:    make(map[layout.Kind]Artifact, 4),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entity.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entity.UpdatedAt = updated
	}
	if deletedRaw.Valid {
		if deleted, err := parseTimeString(deletedRaw.String); err == nil {
			entity.DeletedAt = &deleted
		}
	}
	return entity, nil
}

func scanArtifact(row scanner) (Artifact, error) {
	var (
		kind       string
		state      string
		path       sql.NullString
		errMessage sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(&kind, &state, &path, &errMessage, &updatedRaw); err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		Kind:  layout.Kind(kind),
		State: ArtifactState(state),
		Path:  path.String,
		Error: errMessage.String,
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		artifact.UpdatedAt = updated
	}
	return artifact, nil
}

func scanJob(row scanner) (*Job, error) {
	var (
		id           int64
		entityID     string
		kind         string
		sourcePath   string
		status       string
		attempts     int
		availableRaw sql.NullString
		leaseOwner   sql.NullString
		leaseRaw     sql.NullString
		lastError    sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := row.Scan(&id, &entityID, &kind, &sourcePath, &status, &attempts, &availableRaw,
		&leaseOwner, &leaseRaw, &lastError, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job := &Job{
		ID:         id,
		EntityID:   entityID,
		Kind:       layout.Kind(kind),
		SourcePath: sourcePath,
		Status:     JobStatus(status),
		Attempts:   attempts,
		LeaseOwner: leaseOwner.String,
		LastError:  lastError.String,
	}
	if available, err := parseTimeString(availableRaw.String); err == nil {
		job.AvailableAt = available
	}
	if leaseRaw.Valid {
		if lease, err := parseTimeString(leaseRaw.String); err == nil {
			job.LeaseExpiresAt = &lease
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// truncateError keeps stored error messages bounded.
func truncateError(msg string) string {
	const limit = 2000
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit] + "…"
}
