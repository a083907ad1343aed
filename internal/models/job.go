package models

import "time"

// Job statuses. A job is terminal once it reaches succeeded, failed or
// dead_lettered; failed means a non-retryable error, dead_lettered means
// the retry budget ran out.
const (
	JobQueued       = "queued"
	JobRunning      = "running"
	JobSucceeded    = "succeeded"
	JobFailed       = "failed"
	JobDeadLettered = "dead_lettered"
)

// Queue names served by dedicated worker pools.
const (
	QueueMigration      = "migration"
	QueueMigrationHeavy = "migration_heavy"
	QueueGoogleSync     = "google_sync"
	QueueValidation     = "validation"
)

// Registered job names.
const (
	JobMigrateUsuarios   = "migrate_usuarios"
	JobMigrateFormacoes  = "migrate_formacoes"
	JobMigrateEventos    = "migrate_eventos"
	JobSyncCalendar      = "sync_google_calendar"
	JobValidateMigration = "validate_migration"
	JobPing              = "ping"
)

// Job is a unit of asynchronous work. The row in the jobs table is the
// source of truth for its status; the redis list is only a fast path.
type Job struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Queue       string     `json:"queue"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxRetries  int        `json:"max_retries"`
	RunID       string     `json:"run_id,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	Result      *string    `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobSucceeded, JobFailed, JobDeadLettered:
		return true
	}
	return false
}
