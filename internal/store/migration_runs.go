package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formsync/internal/models"
)

// ErrRunNotFound is returned for an unknown migration run id.
var ErrRunNotFound = errors.New("migration run not found")

func (s *Store) CreateMigrationRun(ctx context.Context, run *models.MigrationRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO migration_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create migration run: %w", err)
	}
	return nil
}

// AppendRunStep records a step as it is enqueued. Runs are append-only.
func (s *Store) AppendRunStep(ctx context.Context, step models.MigrationStep) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO migration_steps (run_id, position, name, job_id) VALUES (?, ?, ?, ?)`,
		step.RunID, step.Position, step.Name, step.JobID)
	if err != nil {
		return fmt.Errorf("failed to append run step: %w", err)
	}
	return nil
}

func (s *Store) FinishMigrationRun(ctx context.Context, id, status string, validationReport *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE migration_runs SET status = ?, finished_at = ?, validation_report = ? WHERE id = ?`,
		status, time.Now(), validationReport, id)
	if err != nil {
		return fmt.Errorf("failed to finish migration run: %w", err)
	}
	return nil
}

func (s *Store) GetMigrationRun(ctx context.Context, id string) (*models.MigrationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, validation_report
         FROM migration_runs WHERE id = ?`, id)

	var run models.MigrationRun
	var finishedAt sql.NullTime
	var report sql.NullString
	err := row.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Status, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration run: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if report.Valid {
		run.ValidationReport = &report.String
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, position, name, job_id FROM migration_steps
         WHERE run_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var step models.MigrationStep
		if err := rows.Scan(&step.RunID, &step.Position, &step.Name, &step.JobID); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		run.Steps = append(run.Steps, step)
	}
	return &run, rows.Err()
}
