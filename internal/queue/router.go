package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"formsync/internal/config"
	"formsync/internal/metrics"
	"formsync/internal/models"
	"formsync/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notifier surfaces operator-visible failures. Implementations must be
// cheap; the router calls them inline.
type Notifier interface {
	JobDeadLettered(ctx context.Context, job *models.Job)
	AuthFailed(ctx context.Context, job *models.Job, err error)
}

// Router accepts named jobs, persists them, routes them to per-queue
// worker pools and drives the retry/dead-letter state machine. The jobs
// table is the source of truth; redis is only the fast delivery path.
type Router struct {
	store    *store.Store
	redis    *redis.Client
	registry *Registry
	cfg      config.QueuesConfig
	retry    RetryPolicy
	notifier Notifier
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewRouter(st *store.Store, redisClient *redis.Client, registry *Registry, cfg config.QueuesConfig, notifier Notifier, logger zerolog.Logger) *Router {
	return &Router{
		store:    st,
		redis:    redisClient,
		registry: registry,
		cfg:      cfg,
		retry:    RetryPolicy{Delay: cfg.RetryDelay},
		notifier: notifier,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue submits a job by name. It persists the job, pushes it to redis
// and returns immediately; execution happens on a worker.
func (r *Router) Enqueue(ctx context.Context, name string, payload interface{}, runID string) (*models.Job, error) {
	reg, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown job name: %s", name)
	}

	body := "{}"
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = string(data)
	}

	job := &models.Job{
		Name:       name,
		Queue:      reg.Queue,
		Payload:    body,
		Status:     models.JobQueued,
		MaxRetries: reg.MaxRetries,
		RunID:      runID,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	// Best effort: a failed push only costs latency, the polling rescue
	// path will pick the row up.
	if r.redis != nil {
		if err := r.pushRedis(ctx, job); err != nil {
			r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("redis push failed, job will be polled from db")
		}
	}

	r.logger.Info().
		Int64("job_id", job.ID).
		Str("job", name).
		Str("queue", reg.Queue).
		Str("run_id", runID).
		Msg("job enqueued")
	return job, nil
}

// Start launches the per-queue worker pools and the housekeeping loop.
// It returns immediately; use Wait to block until shutdown completes.
func (r *Router) Start(ctx context.Context) {
	for _, queue := range r.registry.Queues() {
		workers := r.cfg.Workers[queue]
		if workers <= 0 {
			workers = 1
		}
		for slot := 0; slot < workers; slot++ {
			r.wg.Add(1)
			go func(queue string, slot int) {
				defer r.wg.Done()
				r.superviseSlot(ctx, queue, slot)
			}(queue, slot)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.housekeeping(ctx)
	}()
}

// Wait blocks until all workers have drained after ctx cancellation.
func (r *Router) Wait() {
	r.wg.Wait()
}

// AwaitJob polls a job until it reaches a terminal status. Every terminal
// state is observable here; the orchestrator gates its step sequence on it.
func (r *Router) AwaitJob(ctx context.Context, jobID int64, pollEvery time.Duration) (*models.Job, error) {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// superviseSlot keeps one worker slot occupied: when a worker retires
// after its job budget, a replacement takes over. This bounds memory
// growth from long-lived workers chewing heavy batch payloads.
func (r *Router) superviseSlot(ctx context.Context, queue string, slot int) {
	generation := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w := &worker{
			router:  r,
			queue:   queue,
			slot:    slot,
			maxJobs: r.cfg.MaxJobsPerWorker,
			logger: r.logger.With().
				Str("queue", queue).
				Int("worker", slot).
				Int("generation", generation).
				Logger(),
		}
		w.run(ctx)
		generation++
	}
}

// housekeeping rescues stale running jobs (late acknowledgment: a crash
// mid-execution leaves the row running, redelivery happens here) and
// refreshes queue depth gauges.
func (r *Router) housekeeping(ctx context.Context) {
	interval := r.cfg.PollInterval * 10
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-r.cfg.HardTimeLimit - time.Minute)
		rescued, err := r.store.RescueStaleJobs(ctx, cutoff)
		if err != nil {
			r.logger.Error().Err(err).Msg("rescue stale jobs failed")
		} else if rescued > 0 {
			r.logger.Warn().Int64("count", rescued).Msg("stale running jobs requeued")
		}

		for _, queue := range r.registry.Queues() {
			depth, err := r.store.QueueDepth(ctx, queue)
			if err != nil {
				continue
			}
			metrics.SetQueueDepth(queue, depth)
		}
	}
}

func (r *Router) pushRedis(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.redis.LPush(ctx, queueKey(job.Queue), data).Err()
}

func (r *Router) pushDeadLetter(ctx context.Context, job *models.Job) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		r.logger.Error().Err(err).Int64("job_id", job.ID).Msg("encode deadletter failed")
		return
	}
	if err := r.redis.LPush(ctx, deadLetterKey(job.Queue), data).Err(); err != nil {
		r.logger.Error().Err(err).Int64("job_id", job.ID).Msg("deadletter push failed")
	}
}

// popRedis fetches the next job id from the queue's redis list. The job
// itself is re-read from the store, which stays authoritative for status
// and attempt.
func (r *Router) popRedis(ctx context.Context, queue string) (*models.Job, bool) {
	if r.redis == nil {
		return nil, false
	}
	res, err := r.redis.BRPop(ctx, time.Second, queueKey(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false
		}
		r.logger.Error().Err(err).Str("queue", queue).Msg("redis BRPOP error")
		return nil, false
	}
	if len(res) != 2 {
		return nil, false
	}

	var queued models.Job
	if err := json.Unmarshal([]byte(res[1]), &queued); err != nil {
		r.logger.Error().Err(err).Str("queue", queue).Msg("decode queued job failed")
		return nil, false
	}

	job, err := r.store.GetJob(ctx, queued.ID)
	if err != nil {
		r.logger.Error().Err(err).Int64("job_id", queued.ID).Msg("load queued job failed")
		return nil, false
	}
	// A delayed retry may arrive through redis early; leave it for the
	// polling path once its delay elapses.
	if job.Status != models.JobQueued || (job.NextRetryAt != nil && job.NextRetryAt.After(time.Now())) {
		return nil, false
	}
	return job, true
}
