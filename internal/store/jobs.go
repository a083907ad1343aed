package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formsync/internal/models"
)

const jobColumns = `id, name, queue, payload, status, attempt, max_retries, run_id,
    last_error, result, created_at, started_at, finished_at, next_retry_at`

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, queue, payload, status, attempt, max_retries, run_id, created_at, next_retry_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.Queue, job.Payload, job.Status, job.Attempt, job.MaxRetries,
		nullString(job.RunID), now, job.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	return nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetDueJobs returns queued jobs for a queue whose retry delay, if any, has
// elapsed. This is the rescue path: jobs lost from redis are picked up here.
func (s *Store) GetDueJobs(ctx context.Context, queue string, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE queue = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY created_at ASC LIMIT ?`,
		queue, models.JobQueued, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a queued job to running. Returns false when
// another worker already claimed it, which makes redis/DB double delivery
// harmless.
func (s *Store) ClaimJob(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		models.JobRunning, time.Now(), id, models.JobQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) MarkJobSucceeded(ctx context.Context, id int64, jobResult string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, last_error = NULL, next_retry_at = NULL, finished_at = ? WHERE id = ?`,
		models.JobSucceeded, nullString(jobResult), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	return nil
}

// MarkJobTerminal records a failed or dead_lettered status with its cause.
// A partial result produced before the failure (the validation report, for
// one) is kept alongside.
func (s *Store) MarkJobTerminal(ctx context.Context, id int64, status, cause, jobResult string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, result = ?, next_retry_at = NULL, finished_at = ? WHERE id = ?`,
		status, cause, nullString(jobResult), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}
	return nil
}

// ScheduleJobRetry returns a running job to the queue with attempt+1 and a
// not-before timestamp.
func (s *Store) ScheduleJobRetry(ctx context.Context, id int64, cause string, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ?, attempt = attempt + 1 WHERE id = ?`,
		models.JobQueued, cause, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", err)
	}
	return nil
}

// RescueStaleJobs returns running jobs started before the cutoff to queued.
// Late acknowledgment: a worker crash mid-execution leaves the row in
// running, and this brings the job back for redelivery.
func (s *Store) RescueStaleJobs(ctx context.Context, startedBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = NULL WHERE status = ? AND started_at < ?`,
		models.JobQueued, models.JobRunning, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to rescue stale jobs: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) QueueDepth(ctx context.Context, queue string) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE queue = ? AND status = ?`,
		queue, models.JobQueued).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return depth, nil
}

// GetDeadLetteredJobs returns the operator queue, newest first.
func (s *Store) GetDeadLetteredJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY finished_at DESC`,
		models.JobDeadLettered)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-lettered jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*models.Job, error) {
	var j models.Job
	var runID, lastError, result sql.NullString
	var startedAt, finishedAt, nextRetryAt sql.NullTime
	err := r.Scan(
		&j.ID, &j.Name, &j.Queue, &j.Payload, &j.Status, &j.Attempt, &j.MaxRetries,
		&runID, &lastError, &result, &j.CreatedAt, &startedAt, &finishedAt, &nextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	if runID.Valid {
		j.RunID = runID.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if result.Valid {
		j.Result = &result.String
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if nextRetryAt.Valid {
		j.NextRetryAt = &nextRetryAt.Time
	}
	return &j, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
