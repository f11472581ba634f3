package queue

import (
	"context"
	"database/sql"
	"fmt"
)

// deriveStatus maps artifact and job counts onto the entity status. The
// second return is false when the current status should be kept.
func deriveStatus(pending, succeeded, failed, active, claimed int) (EntityStatus, bool) {
	if pending == 0 {
		switch {
		case failed == 0:
			return EntityReady, true
		case succeeded == 0:
			return EntityFailed, true
		default:
			return EntityPartiallyFailed, true
		}
	}
	if active == 0 {
		return "", false
	}
	if claimed > 0 || succeeded+failed > 0 {
		return EntityProcessing, true
	}
	return EntityUploaded, true
}

func (s *Store) recomputeStatusTx(ctx context.Context, tx *sql.Tx, entityID string) error {
	var pending, succeeded, failed sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT
             SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
             SUM(CASE WHEN state = ? THEN 1 ELSE 0 END),
             SUM(CASE WHEN state = ? THEN 1 ELSE 0 END)
         FROM artifacts WHERE entity_id = ?`,
		ArtifactPending, ArtifactSucceeded, ArtifactFailed, entityID,
	).Scan(&pending, &succeeded, &failed); err != nil {
		return fmt.Errorf("artifact summary: %w", err)
	}
	var active, claimed sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1), SUM(CASE WHEN attempts > 0 OR status = ? THEN 1 ELSE 0 END)
         FROM jobs WHERE entity_id = ? AND status IN (?, ?)`,
		JobRunning, entityID, JobPending, JobRunning,
	).Scan(&active, &claimed); err != nil {
		return fmt.Errorf("job summary: %w", err)
	}

	status, ok := deriveStatus(int(pending.Int64), int(succeeded.Int64), int(failed.Int64), int(active.Int64), int(claimed.Int64))
	if !ok {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		status, formatTime(s.now()), entityID, status,
	); err != nil {
		return fmt.Errorf("update entity status: %w", err)
	}
	return nil
}
