package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stylizer/internal/transfer"
)

// InterruptedReason is recorded on jobs that were running when the daemon died.
const InterruptedReason = "interrupted by daemon restart"

// Save inserts or replaces the row for job.
func (s *Store) Save(ctx context.Context, job transfer.Job) error {
	if job.ID == "" {
		return errors.New("save job: id is required")
	}
	var argv any
	if len(job.Argv) > 0 {
		encoded, err := json.Marshal(job.Argv)
		if err != nil {
			return fmt.Errorf("encode argv: %w", err)
		}
		argv = string(encoded)
	}
	_, err := s.execWithRetry(ctx, `
INSERT INTO jobs (id, job_key, kind, status, subject, style, argv_json, output_message, error_message, exit_code, output_path, started_at, finished_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    argv_json = excluded.argv_json,
    output_message = excluded.output_message,
    error_message = excluded.error_message,
    exit_code = excluded.exit_code,
    output_path = excluded.output_path,
    finished_at = excluded.finished_at,
    updated_at = excluded.updated_at`,
		job.ID,
		job.Key,
		string(job.Kind),
		string(job.Status),
		job.Subject,
		job.Style,
		argv,
		nullableStringPtr(job.OutputMessage),
		nullableStringPtr(job.ErrorMessage),
		nullableInt(job.ExitCode),
		nullableString(job.OutputPath),
		formatTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get fetches a job by id. It returns nil when no row exists.
func (s *Store) Get(ctx context.Context, id string) (*transfer.Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first. limit <= 0 returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]transfer.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []transfer.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkInterrupted fails every job still recorded as running and returns how
// many rows changed.
func (s *Store) MarkInterrupted(ctx context.Context, at time.Time) (int64, error) {
	stamp := formatTime(at)
	res, err := s.execWithRetry(ctx, `
UPDATE jobs
SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
WHERE status = ?`,
		string(transfer.StatusFailed), InterruptedReason, stamp, stamp, string(transfer.StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes all but the newest keep terminal jobs and returns the number removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx, `
DELETE FROM jobs
WHERE status != ? AND id NOT IN (
    SELECT id FROM jobs WHERE status != ? ORDER BY started_at DESC, id DESC LIMIT ?
)`,
		string(transfer.StatusRunning), string(transfer.StatusRunning), keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[transfer.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[transfer.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[transfer.Status(status)] = count
	}
	return stats, rows.Err()
}
