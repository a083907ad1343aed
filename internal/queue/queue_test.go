package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"formsync/internal/config"
	"formsync/internal/errs"
	"formsync/internal/models"
	"formsync/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueuesConfig() config.QueuesConfig {
	return config.QueuesConfig{
		SoftTimeLimit:    200 * time.Millisecond,
		HardTimeLimit:    400 * time.Millisecond,
		RetryDelay:       20 * time.Millisecond,
		MaxRetries:       3,
		MaxJobsPerWorker: 1000,
		PollInterval:     10 * time.Millisecond,
		Workers: map[string]int{
			models.QueueMigration:      1,
			models.QueueMigrationHeavy: 1,
			models.QueueGoogleSync:     1,
			models.QueueValidation:     1,
		},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type recordingNotifier struct {
	mu          sync.Mutex
	deadLetters []int64
	authFails   []int64
}

func (n *recordingNotifier) JobDeadLettered(ctx context.Context, job *models.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deadLetters = append(n.deadLetters, job.ID)
}

func (n *recordingNotifier) AuthFailed(ctx context.Context, job *models.Job, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authFails = append(n.authFails, job.ID)
}

func (n *recordingNotifier) deadLetterCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deadLetters)
}

func (n *recordingNotifier) authFailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.authFails)
}

func register(t *testing.T, registry *Registry, name, queue string, maxRetries int, handler Handler) {
	t.Helper()
	require.NoError(t, registry.Register(Registration{
		Name:       name,
		Queue:      queue,
		MaxRetries: maxRetries,
		SoftLimit:  200 * time.Millisecond,
		HardLimit:  400 * time.Millisecond,
		Handler:    handler,
	}))
}

func startRouter(t *testing.T, st *store.Store, registry *Registry, redisClient *redis.Client, notifier Notifier) *Router {
	t.Helper()
	router := NewRouter(st, redisClient, registry, testQueuesConfig(), notifier, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	router.Start(ctx)
	t.Cleanup(func() {
		cancel()
		router.Wait()
	})
	return router
}

func TestPingJob(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()
	require.NoError(t, registry.RegisterPing(3, 200*time.Millisecond, 400*time.Millisecond))
	router := startRouter(t, st, registry, nil, nil)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, models.JobPing, nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, PingAck, *final.Result)
}

func TestRetryBoundThenDeadLetter(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	var attempts int32
	register(t, registry, "always_fails", models.QueueMigration, 3,
		func(ctx context.Context, job *models.Job) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", &errs.TransientNetworkError{Op: "test", Err: errors.New("boom")}
		})

	notifier := &recordingNotifier{}
	router := startRouter(t, st, registry, nil, notifier)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "always_fails", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)

	// 1 original attempt + 3 retries, then the operator queue.
	assert.Equal(t, models.JobDeadLettered, final.Status)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, 1, notifier.deadLetterCount())
}

func TestAuthErrorIsTerminal(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	var attempts int32
	register(t, registry, "auth_fails", models.QueueGoogleSync, 3,
		func(ctx context.Context, job *models.Job) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", &errs.AuthError{Reason: "refresh token revoked"}
		})

	notifier := &recordingNotifier{}
	router := startRouter(t, st, registry, nil, notifier)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "auth_fails", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)

	// No retries for auth failures.
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, notifier.authFailCount())
	assert.Equal(t, 0, notifier.deadLetterCount())
}

func TestValidationErrorIsTerminal(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	register(t, registry, "validation_fails", models.QueueValidation, 3,
		func(ctx context.Context, job *models.Job) (string, error) {
			return "", &errs.ValidationError{Problems: []string{"count mismatch"}}
		})

	router := startRouter(t, st, registry, nil, nil)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "validation_fails", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "count mismatch")
}

func TestHardTimeLimitAbandonsHandler(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	require.NoError(t, registry.Register(Registration{
		Name:       "hangs",
		Queue:      models.QueueMigrationHeavy,
		MaxRetries: 0,
		SoftLimit:  50 * time.Millisecond,
		HardLimit:  100 * time.Millisecond,
		Handler: func(ctx context.Context, job *models.Job) (string, error) {
			// Ignores the soft cancel entirely.
			time.Sleep(2 * time.Second)
			return "too late", nil
		},
	}))

	router := startRouter(t, st, registry, nil, nil)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "hangs", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobDeadLettered, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "hard time limit")
}

func TestSoftLimitCancelsHandlerContext(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	softObserved := make(chan struct{}, 1)
	require.NoError(t, registry.Register(Registration{
		Name:       "cooperative",
		Queue:      models.QueueMigration,
		MaxRetries: 0,
		SoftLimit:  50 * time.Millisecond,
		HardLimit:  5 * time.Second,
		Handler: func(ctx context.Context, job *models.Job) (string, error) {
			<-ctx.Done()
			softObserved <- struct{}{}
			return "", errors.New("cleaned up after soft limit")
		},
	}))

	router := startRouter(t, st, registry, nil, nil)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "cooperative", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)

	select {
	case <-softObserved:
	case <-time.After(time.Second):
		t.Fatal("handler never observed the soft cancel")
	}
	assert.Equal(t, models.JobDeadLettered, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "cleaned up after soft limit")
}

func TestPanicIsContained(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	register(t, registry, "panics", models.QueueMigration, 0,
		func(ctx context.Context, job *models.Job) (string, error) {
			panic("kaboom")
		})

	router := startRouter(t, st, registry, nil, nil)

	ctx := context.Background()
	job, err := router.Enqueue(ctx, "panics", nil, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := router.AwaitJob(waitCtx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobDeadLettered, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "kaboom")
}

func TestWorkerRecyclingKeepsServing(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry()

	var served int32
	register(t, registry, "quick", models.QueueMigration, 0,
		func(ctx context.Context, job *models.Job) (string, error) {
			atomic.AddInt32(&served, 1)
			return "ok", nil
		})

	cfg := testQueuesConfig()
	cfg.MaxJobsPerWorker = 1 // recycle after every job
	router := NewRouter(st, nil, registry, cfg, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	router.Start(ctx)
	t.Cleanup(func() {
		cancel()
		router.Wait()
	})

	var jobIDs []int64
	for i := 0; i < 5; i++ {
		job, err := router.Enqueue(ctx, "quick", nil, "")
		require.NoError(t, err)
		jobIDs = append(jobIDs, job.ID)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()
	for _, id := range jobIDs {
		final, err := router.AwaitJob(waitCtx, id, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, models.JobSucceeded, final.Status)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&served))
}

func TestRedisFastPathAndDeadLetterList(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	st := newTestStore(t)
	registry := NewRegistry()

	register(t, registry, "ok_job", models.QueueMigration, 0,
		func(ctx context.Context, job *models.Job) (string, error) {
			return "done", nil
		})
	register(t, registry, "bad_job", models.QueueGoogleSync, 0,
		func(ctx context.Context, job *models.Job) (string, error) {
			return "", errors.New("provider exploded")
		})

	router := startRouter(t, st, registry, client, nil)

	ctx := context.Background()
	okJob, err := router.Enqueue(ctx, "ok_job", map[string]string{"k": "v"}, "run-1")
	require.NoError(t, err)
	badJob, err := router.Enqueue(ctx, "bad_job", nil, "run-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	final, err := router.AwaitJob(waitCtx, okJob.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, final.Status)
	assert.Equal(t, "run-1", final.RunID)

	final, err = router.AwaitJob(waitCtx, badJob.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.JobDeadLettered, final.Status)

	// The dead-letter copy is visible to operators on redis as well.
	entries, err := client.LRange(ctx, deadLetterKey(models.QueueGoogleSync), 0, -1).Result()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEnqueueUnknownJob(t *testing.T) {
	st := newTestStore(t)
	router := NewRouter(st, nil, NewRegistry(), testQueuesConfig(), nil, zerolog.Nop())
	_, err := router.Enqueue(context.Background(), "nope", nil, "")
	assert.Error(t, err)
}

func TestRegistryValidation(t *testing.T) {
	registry := NewRegistry()
	handler := func(ctx context.Context, job *models.Job) (string, error) { return "", nil }

	assert.Error(t, registry.Register(Registration{Queue: "q", Handler: handler, SoftLimit: 1, HardLimit: 2}))
	assert.Error(t, registry.Register(Registration{Name: "a", Handler: handler, SoftLimit: 1, HardLimit: 2}))
	assert.Error(t, registry.Register(Registration{Name: "a", Queue: "q", SoftLimit: 1, HardLimit: 2}))
	assert.Error(t, registry.Register(Registration{Name: "a", Queue: "q", Handler: handler, SoftLimit: 2, HardLimit: 1}))

	require.NoError(t, registry.Register(Registration{Name: "a", Queue: "q", Handler: handler, SoftLimit: 1, HardLimit: 2}))
	assert.Error(t, registry.Register(Registration{Name: "a", Queue: "q", Handler: handler, SoftLimit: 1, HardLimit: 2}))
	assert.Equal(t, []string{"q"}, registry.Queues())
}

func TestRetryPolicyFixedDelay(t *testing.T) {
	policy := RetryPolicy{Delay: 60 * time.Second}
	assert.Equal(t, 60*time.Second, policy.NextDelay(1))
	assert.Equal(t, 60*time.Second, policy.NextDelay(3))
}

func TestRetryPolicyExponentialClamped(t *testing.T) {
	policy := RetryPolicy{Delay: time.Second, BackoffFactor: 2, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 3*time.Second, policy.NextDelay(3))
	assert.Equal(t, 3*time.Second, policy.NextDelay(10))
}
