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

// EnqueueJobs inserts one pending job per kind for a live entity inside a
// single transaction. Either every job exists afterwards or none does.
func (s *Store) EnqueueJobs(ctx context.Context, entityID, sourcePath string, kinds []layout.Kind) ([]*Job, error) {
	if len(kinds) == 0 {
		return nil, errors.New("enqueue jobs: no kinds")
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("enqueue jobs: unknown kind %q", kind)
		}
	}

	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		if err := requireLiveEntity(ctx, tx, entityID); err != nil {
			return err
		}
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE entity_id = ?`, entityID).Scan(&existing); err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyDispatched, entityID)
		}
		now := formatTime(s.now())
		for _, kind := range kinds {
			if s.beforeInsert != nil {
				if err := s.beforeInsert(kind); err != nil {
					return err
				}
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO jobs (entity_id, kind, source_path, status, attempts, available_at, created_at, updated_at)
                 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
				entityID, kind, sourcePath, JobPending, now, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert job %s: %w", kind, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("job id %s: %w", kind, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// GetJob returns the job with id, or nil.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching filter ordered by id.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim leases the next available job to owner until leaseUntil. It returns
// nil when nothing is ready. Jobs of tombstoned entities are never claimed.
func (s *Store) Claim(ctx context.Context, owner string, leaseUntil time.Time) (*Job, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errors.New("claim: owner is required")
	}
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job = nil
		now := formatTime(s.now())
		row := tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, lease_owner = ?, lease_expires_at = ?, updated_at = ?
             WHERE id = (
                 SELECT j.id FROM jobs j JOIN entities e ON e.id = j.entity_id
                 WHERE j.status = ? AND j.available_at <= ? AND e.deleted_at IS NULL
                 ORDER BY j.available_at, j.id LIMIT 1
             )
             RETURNING `+jobColumns,
			JobRunning, owner, formatTime(leaseUntil), now, JobPending, now,
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if err := s.recomputeStatusTx(ctx, tx, claimed.EntityID); err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RenewLease extends the lease of a running job held by owner. A tombstoned
// entity yields ErrEntityGone so the holder can abandon the work early.
func (s *Store) RenewLease(ctx context.Context, jobID int64, owner string, leaseUntil time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.leasedJobTx(ctx, tx, jobID, owner)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ?`,
			formatTime(leaseUntil), formatTime(s.now()), job.ID,
		); err != nil {
			return fmt.Errorf("renew lease: %w", err)
		}
		return nil
	})
}

// leasedJobTx loads a job and checks that owner still holds it and that its
// entity is live. Jobs of gone entities are deleted.
func (s *Store) leasedJobTx(ctx context.Context, tx *sql.Tx, jobID int64, owner string) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %d", ErrEntityGone, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	if err := requireLiveEntity(ctx, tx, job.EntityID); err != nil {
		if errors.Is(err, ErrEntityGone) {
			if _, delErr := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); delErr != nil {
				return nil, fmt.Errorf("drop job %d: %w", jobID, delErr)
			}
		}
		return nil, err
	}
	if job.Status != JobRunning || job.LeaseOwner != owner {
		return nil, fmt.Errorf("%w: job %d", ErrLeaseLost, jobID)
	}
	return job, nil
}

// leasedWrite runs fn for a job still held by owner. When the entity is gone
// the job deletion is committed and ErrEntityGone is returned afterwards.
func (s *Store) leasedWrite(ctx context.Context, jobID int64, owner string, fn func(tx *sql.Tx, job *Job) error) error {
	var gone error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		gone = nil
		job, err := s.leasedJobTx(ctx, tx, jobID, owner)
		if errors.Is(err, ErrEntityGone) {
			gone = err
			return nil
		}
		if err != nil {
			return err
		}
		return fn(tx, job)
	})
	if err != nil {
		return err
	}
	return gone
}

// CompleteJob records a successful job and its artifact path. It fails with
// ErrEntityGone when the entity was tombstoned (nothing is recorded) and with
// ErrLeaseLost when owner no longer holds the job.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, owner, path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("complete job: artifact path is required")
	}
	return s.leasedWrite(ctx, jobID, owner, func(tx *sql.Tx, job *Job) error {
		now := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_error = NULL, updated_at = ? WHERE id = ?`,
			JobSucceeded, now, job.ID,
		); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if err := s.setArtifactTx(ctx, tx, job.EntityID, job.Kind, ArtifactSucceeded, path, ""); err != nil {
			return err
		}
		return s.recomputeStatusTx(ctx, tx, job.EntityID)
	})
}

// RetryJob returns a leased job to the queue, available again at availableAt.
func (s *Store) RetryJob(ctx context.Context, jobID int64, owner, message string, availableAt time.Time) error {
	return s.leasedWrite(ctx, jobID, owner, func(tx *sql.Tx, job *Job) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_error = ?, available_at = ?, updated_at = ? WHERE id = ?`,
			JobPending, nullableString(truncateError(message)), formatTime(availableAt), formatTime(s.now()), job.ID,
		); err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		return nil
	})
}

// FailJob marks a leased job and its artifact failed.
func (s *Store) FailJob(ctx context.Context, jobID int64, owner, message string) error {
	return s.leasedWrite(ctx, jobID, owner, func(tx *sql.Tx, job *Job) error {
		return s.failJobTx(ctx, tx, job, message)
	})
}

func (s *Store) failJobTx(ctx context.Context, tx *sql.Tx, job *Job, message string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_error = ?, updated_at = ? WHERE id = ?`,
		JobFailed, nullableString(truncateError(message)), formatTime(s.now()), job.ID,
	); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if err := s.setArtifactTx(ctx, tx, job.EntityID, job.Kind, ArtifactFailed, "", message); err != nil {
		return err
	}
	return s.recomputeStatusTx(ctx, tx, job.EntityID)
}

// ReleaseJob hands a leased job back without counting the attempt. Used on
// shutdown so interrupted work is picked up again immediately.
func (s *Store) ReleaseJob(ctx context.Context, jobID int64, owner string) error {
	return s.leasedWrite(ctx, jobID, owner, func(tx *sql.Tx, job *Job) error {
		now := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = MAX(attempts - 1, 0), lease_owner = NULL, lease_expires_at = NULL, available_at = ?, updated_at = ? WHERE id = ?`,
			JobPending, now, now, job.ID,
		); err != nil {
			return fmt.Errorf("release job: %w", err)
		}
		return nil
	})
}

// ReclaimExpired returns running jobs whose lease has expired to the queue,
// or fails them when maxAttempts is reached. Expired jobs of tombstoned
// entities are dropped.
func (s *Store) ReclaimExpired(ctx context.Context, maxAttempts int) (ReclaimResult, error) {
	var result ReclaimResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ReclaimResult{}
		now := formatTime(s.now())
		rows, err := tx.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ? ORDER BY id`,
			JobRunning, now,
		)
		if err != nil {
			return fmt.Errorf("query expired leases: %w", err)
		}
		var expired []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan expired job: %w", err)
			}
			expired = append(expired, job)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, job := range expired {
			if err := requireLiveEntity(ctx, tx, job.EntityID); err != nil {
				if !errors.Is(err, ErrEntityGone) {
					return err
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
					return fmt.Errorf("drop expired job: %w", err)
				}
				continue
			}
			if maxAttempts > 0 && job.Attempts >= maxAttempts {
				msg := fmt.Sprintf("lease expired after %d attempts", job.Attempts)
				if err := s.failJobTx(ctx, tx, job, msg); err != nil {
					return err
				}
				result.Failed++
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_error = ?, available_at = ?, updated_at = ? WHERE id = ?`,
				JobPending, "lease expired", now, now, job.ID,
			); err != nil {
				return fmt.Errorf("requeue expired job: %w", err)
			}
			result.Requeued++
		}
		return nil
	})
	return result, err
}

// RetryFailed re-queues failed jobs of live entities. With no ids every
// failed job is re-queued. Attempts restart from zero and the artifact
// returns to pending.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		count = 0
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ?`
		args := []any{JobFailed}
		if len(ids) > 0 {
			query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
			for _, id := range ids {
				args = append(args, id)
			}
		}
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query failed jobs: %w", err)
		}
		var failed []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan failed job: %w", err)
			}
			failed = append(failed, job)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := formatTime(s.now())
		touched := make(map[string]struct{})
		for _, job := range failed {
			if err := requireLiveEntity(ctx, tx, job.EntityID); err != nil {
				if errors.Is(err, ErrEntityGone) {
					continue
				}
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, attempts = 0, last_error = NULL, available_at = ?, updated_at = ? WHERE id = ?`,
				JobPending, now, now, job.ID,
			); err != nil {
				return fmt.Errorf("requeue failed job: %w", err)
			}
			if err := s.setArtifactTx(ctx, tx, job.EntityID, job.Kind, ArtifactPending, "", ""); err != nil {
				return err
			}
			touched[job.EntityID] = struct{}{}
			count++
		}
		for entityID := range touched {
			if err := s.recomputeStatusTx(ctx, tx, entityID); err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// JobCounts returns job counts grouped by status.
func (s *Store) JobCounts(ctx context.Context) (map[JobStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
