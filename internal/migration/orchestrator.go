package migration

import (
	"context"
	"fmt"
	"time"

	"formsync/internal/logging"
	"formsync/internal/models"
	"formsync/internal/queue"
	"formsync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Steps is the fixed migration sequence. A step is enqueued only after the
// router reports its predecessor succeeded, so a failure anywhere stops
// the run before later steps ever enter a queue.
var Steps = []string{
	models.JobMigrateUsuarios,
	models.JobMigrateFormacoes,
	models.JobMigrateEventos,
	models.JobSyncCalendar,
	models.JobValidateMigration,
}

// Orchestrator sequences the migration steps as discrete jobs and keeps
// the append-only run audit record.
type Orchestrator struct {
	store  *store.Store
	router *queue.Router
	poll   time.Duration
	logger zerolog.Logger
}

func NewOrchestrator(st *store.Store, router *queue.Router, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		router: router,
		poll:   time.Second,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the full step sequence and returns the finished run record.
// Each step is independently resumable, so a failed run is retried simply
// by starting a new one.
func (o *Orchestrator) Run(ctx context.Context) (*models.MigrationRun, error) {
	run := &models.MigrationRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    models.RunRunning,
	}
	if err := o.store.CreateMigrationRun(ctx, run); err != nil {
		return nil, err
	}

	logger := logging.WithRun(o.logger, run.ID)
	logger.Info().Msg("migration run started")

	var validationReport *string
	for position, name := range Steps {
		job, err := o.router.Enqueue(ctx, name, nil, run.ID)
		if err != nil {
			return o.finish(ctx, run, models.RunFailed, validationReport,
				fmt.Errorf("enqueue step %s: %w", name, err))
		}
		step := models.MigrationStep{RunID: run.ID, Position: position, Name: name, JobID: job.ID}
		if err := o.store.AppendRunStep(ctx, step); err != nil {
			return o.finish(ctx, run, models.RunFailed, validationReport, err)
		}
		run.Steps = append(run.Steps, step)

		final, err := o.router.AwaitJob(ctx, job.ID, o.poll)
		if err != nil {
			return o.finish(ctx, run, models.RunFailed, validationReport,
				fmt.Errorf("await step %s: %w", name, err))
		}

		// The validation report is kept on the run row whether or not the
		// step passed.
		if name == models.JobValidateMigration && final.Result != nil {
			validationReport = final.Result
		}

		if final.Status != models.JobSucceeded {
			cause := final.Status
			if final.LastError != nil {
				cause = fmt.Sprintf("%s: %s", final.Status, *final.LastError)
			}
			logger.Error().Str("step", name).Str("status", final.Status).Msg("step failed, run aborted")
			return o.finish(ctx, run, models.RunFailed, validationReport,
				fmt.Errorf("step %s ended %s", name, cause))
		}
		logger.Info().Str("step", name).Int64("job_id", job.ID).Msg("step succeeded")
	}

	logger.Info().Msg("migration run succeeded")
	return o.finish(ctx, run, models.RunSucceeded, validationReport, nil)
}

func (o *Orchestrator) finish(ctx context.Context, run *models.MigrationRun, status string, report *string, cause error) (*models.MigrationRun, error) {
	run.Status = status
	run.ValidationReport = report
	if err := o.store.FinishMigrationRun(ctx, run.ID, status, report); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("persist run status failed")
	}
	if cause != nil {
		return run, cause
	}
	return run, nil
}
