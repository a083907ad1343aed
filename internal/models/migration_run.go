package models

import "time"

// Migration run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// MigrationRun is the audit record of one orchestration invocation.
// Rows are never deleted; steps are appended as they are enqueued.
type MigrationRun struct {
	ID               string          `json:"id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	Status           string          `json:"status"`
	ValidationReport *string         `json:"validation_report,omitempty"`
	Steps            []MigrationStep `json:"steps,omitempty"`
}

// MigrationStep ties a run to one enqueued job, in sequence order.
type MigrationStep struct {
	RunID    string `json:"run_id"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	JobID    int64  `json:"job_id"`
}
