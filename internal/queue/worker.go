package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formsync/internal/errs"
	"formsync/internal/metrics"
	"formsync/internal/models"

	"github.com/rs/zerolog"
)

// errHardTimeLimit marks a job whose handler ignored the soft cancel and
// had to be abandoned. Classified retryable: the job is redelivered.
var errHardTimeLimit = errors.New("hard time limit exceeded")

// worker serves one queue slot with prefetch=1: it pulls the next job only
// after the current one reached a terminal or retry state. It retires
// after maxJobs executions and is replaced by its supervisor.
type worker struct {
	router  *Router
	queue   string
	slot    int
	maxJobs int
	logger  zerolog.Logger
}

func (w *worker) run(ctx context.Context) {
	w.logger.Debug().Msg("worker started")
	defer w.logger.Debug().Msg("worker retired")

	executed := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok := w.nextJob(ctx)
		if !ok {
			continue
		}

		w.process(ctx, job)
		executed++
		if w.maxJobs > 0 && executed >= w.maxJobs {
			w.logger.Info().Int("executed", executed).Msg("job budget reached, recycling worker")
			return
		}
	}
}

// nextJob takes the redis fast path first, then falls back to polling the
// jobs table, which also serves delayed retries and rescued jobs. Claiming
// through the store makes duplicate delivery harmless.
func (w *worker) nextJob(ctx context.Context) (*models.Job, bool) {
	if job, ok := w.router.popRedis(ctx, w.queue); ok {
		if claimed, err := w.router.store.ClaimJob(ctx, job.ID); err == nil && claimed {
			return job, true
		}
		return nil, false
	}

	jobs, err := w.router.store.GetDueJobs(ctx, w.queue, 1)
	if err != nil {
		w.logger.Error().Err(err).Msg("poll due jobs failed")
		w.sleep(ctx)
		return nil, false
	}
	if len(jobs) == 0 {
		if w.router.redis == nil {
			// BRPop already blocked for a second on the redis path.
			w.sleep(ctx)
		}
		return nil, false
	}

	job := jobs[0]
	claimed, err := w.router.store.ClaimJob(ctx, job.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("claim failed")
		return nil, false
	}
	if !claimed {
		return nil, false
	}
	return &job, true
}

// process runs a single job under its soft/hard time limit pair and feeds
// the outcome into the retry state machine. Errors never escape: every
// failure lands the job in queued (retry), failed or dead_lettered.
func (w *worker) process(ctx context.Context, job *models.Job) {
	reg, ok := w.router.registry.Get(job.Name)
	if !ok {
		w.finishTerminal(ctx, job, models.JobFailed, fmt.Errorf("unknown job name: %s", job.Name), "")
		return
	}

	logger := w.logger.With().Int64("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Logger()
	logger.Info().Msg("job started")

	result, err := w.execute(ctx, reg, job)
	if err == nil {
		if err := w.router.store.MarkJobSucceeded(ctx, job.ID, result); err != nil {
			logger.Error().Err(err).Msg("mark succeeded failed")
		}
		metrics.IncProcessed(job.Queue, models.JobSucceeded)
		logger.Info().Msg("job succeeded")
		return
	}

	if !errs.Retryable(err) {
		// A handler may produce a partial result alongside a terminal
		// error (the validation report does); keep it.
		w.finishTerminal(ctx, job, models.JobFailed, err, result)
		var ae *errs.AuthError
		if errors.As(err, &ae) && w.router.notifier != nil {
			w.router.notifier.AuthFailed(ctx, job, err)
		}
		return
	}

	if job.Attempt >= job.MaxRetries {
		w.deadLetter(ctx, job, err, result)
		return
	}

	delay := w.router.retry.NextDelay(job.Attempt + 1)
	nextRetry := time.Now().Add(delay)
	if err := w.router.store.ScheduleJobRetry(ctx, job.ID, err.Error(), nextRetry); err != nil {
		logger.Error().Err(err).Msg("schedule retry failed")
	}
	metrics.IncRetry(job.Queue)
	logger.Warn().Err(err).Time("next_retry_at", nextRetry).Msg("job failed, retry scheduled")
}

// execute enforces the time limit pair. The soft limit cancels the
// handler's context so it can clean up; if the handler is still running
// when the hard limit fires, it is abandoned and the job counts a failed
// attempt. An abandoned handler goroutine keeps running until it notices
// the cancelled context on its own.
func (w *worker) execute(ctx context.Context, reg Registration, job *models.Job) (string, error) {
	softCtx, cancel := context.WithTimeout(ctx, reg.SoftLimit)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", rec)}
			}
		}()
		result, err := reg.Handler(softCtx, job)
		done <- outcome{result: result, err: err}
	}()

	hard := time.NewTimer(reg.HardLimit)
	defer hard.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-hard.C:
		return "", errHardTimeLimit
	}
}

func (w *worker) finishTerminal(ctx context.Context, job *models.Job, status string, cause error, result string) {
	if err := w.router.store.MarkJobTerminal(ctx, job.ID, status, cause.Error(), result); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark terminal failed")
	}
	metrics.IncProcessed(job.Queue, status)
	w.logger.Error().Err(cause).Int64("job_id", job.ID).Str("job", job.Name).Str("status", status).Msg("job failed terminally")
}

func (w *worker) deadLetter(ctx context.Context, job *models.Job, cause error, result string) {
	if err := w.router.store.MarkJobTerminal(ctx, job.ID, models.JobDeadLettered, cause.Error(), result); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark dead-lettered failed")
	}
	w.router.pushDeadLetter(ctx, job)
	metrics.IncProcessed(job.Queue, models.JobDeadLettered)
	metrics.IncDeadLetter(job.Queue)
	if w.router.notifier != nil {
		w.router.notifier.JobDeadLettered(ctx, job)
	}
	w.logger.Error().Err(cause).Int64("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempt).Msg("retries exhausted, job dead-lettered")
}

func (w *worker) sleep(ctx context.Context) {
	interval := w.router.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}
