package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// startQueue registers the handler and starts the queue's workers,
// stopping the manager when the test ends.
func startQueue(t *testing.T, m *Manager, queue, jobType string, handler Handler) {
	t.Helper()
	require.NoError(t, m.Register(queue, jobType, testPayload{}, handler))
	require.NoError(t, m.StartWorkers(context.Background(), queue))
	t.Cleanup(m.Stop)
}

func getJob(t *testing.T, m *Manager, id string) *models.Job {
	t.Helper()
	job, err := m.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, m *Manager, id string, status models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := m.store.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, 3*time.Second, 10*time.Millisecond, "job never reached status %s", status)
}

func TestWorkerProcessesJob(t *testing.T) {
	m := newTestManager(t)
	got := make(chan *testPayload, 1)
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		sink.Log("info", "starting deploy")
		got <- payload.(*testPayload)
		return nil
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run",
		testPayload{Name: "web", Count: 2}, EnqueueOptions{UserID: "u1"})
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, "web", p.Name)
		assert.Equal(t, 2, p.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	waitForStatus(t, m, job.ID, models.JobCompleted)
	stored := getJob(t, m, job.ID)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.CompletedAt)
	assert.True(t, strings.HasPrefix(stored.WorkerID, "test-proc-deploys-"),
		"unexpected worker id %q", stored.WorkerID)
}

func TestWorkerRetriesWithBackoff(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1", BackoffBaseMS: 1})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobCompleted)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 2, getJob(t, m, job.ID).Attempts)
}

func TestWorkerExhaustsRetries(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		calls.Add(1)
		return errors.New("boom")
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1", MaxAttempts: 2, BackoffBaseMS: 1})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobFailed)
	assert.EqualValues(t, 2, calls.Load())

	entries, err := m.store.ListDeadLetters(context.Background(), "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, job.ID, entries[0].JobID)
	assert.Equal(t, models.FailureExhausted, entries[0].FailureReason)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Contains(t, entries[0].LastError, "boom")
}

func TestWorkerPermanentFailure(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		calls.Add(1)
		return Permanent(errors.New("unknown deploy target"))
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1", MaxAttempts: 5})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobFailed)
	// No retries despite budget remaining
	assert.EqualValues(t, 1, calls.Load())

	entries, err := m.store.ListDeadLetters(context.Background(), "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.FailurePermanent, entries[0].FailureReason)
}

func TestWorkerPanicIsRetried(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		if calls.Add(1) == 1 {
			panic("nil map write")
		}
		return nil
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1", BackoffBaseMS: 1})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobCompleted)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWorkerDeadlineIsRetryable(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1", TimeoutMS: 50, BackoffBaseMS: 1})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobCompleted)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWorkerDeadLettersUnregisteredType(t *testing.T) {
	m := newTestManager(t)
	startQueue(t, m, "deploys", "deploy.run", noopHandler)

	// Sneak a job with an unknown type past enqueue validation.
	rogue := &models.Job{
		Queue:       "deploys",
		Type:        "deploy.unknown",
		Payload:     models.JSON(`{}`),
		MaxAttempts: 3,
		UserID:      "u1",
	}
	require.NoError(t, m.store.EnqueueJob(context.Background(), rogue))

	waitForStatus(t, m, rogue.ID, models.JobFailed)
	entries, err := m.store.ListDeadLetters(context.Background(), "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.FailurePermanent, entries[0].FailureReason)
	assert.Contains(t, entries[0].LastError, "no handler registered")
}

func TestDeadLetterHookInvoked(t *testing.T) {
	m := newTestManager(t)
	hooked := make(chan *models.DeadLetterEntry, 1)
	m.OnDeadLetter("deploys", func(ctx context.Context, job *models.Job, entry *models.DeadLetterEntry) {
		hooked <- entry
	})
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		return Permanent(errors.New("bad manifest"))
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1"})
	require.NoError(t, err)

	select {
	case entry := <-hooked:
		assert.Equal(t, job.ID, entry.JobID)
		assert.Equal(t, models.FailurePermanent, entry.FailureReason)
	case <-time.After(2 * time.Second):
		t.Fatal("dead-letter hook was not invoked")
	}
}

func TestWorkerHeartbeatsWhileRunning(t *testing.T) {
	m := newTestManager(t)
	release := make(chan struct{})
	startQueue(t, m, "deploys", "deploy.run", func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		<-release
		return nil
	})

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1"})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, models.JobActive)
	initial := getJob(t, m, job.ID).HeartbeatAt
	require.NotNil(t, initial)

	require.Eventually(t, func() bool {
		hb := getJob(t, m, job.ID).HeartbeatAt
		return hb != nil && hb.After(*initial)
	}, 2*time.Second, 10*time.Millisecond, "heartbeat never advanced")

	close(release)
	waitForStatus(t, m, job.ID, models.JobCompleted)
}

func TestStopWaitsForInFlightJobs(t *testing.T) {
	m := newTestManager(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, m.Register("deploys", "deploy.run", testPayload{}, func(ctx context.Context, job *models.Job, payload any, sink LogSink) error {
		started <- struct{}{}
		<-release
		return nil
	}))
	require.NoError(t, m.StartWorkers(context.Background(), "deploys"))

	job, err := m.Enqueue(context.Background(), "deploys", "deploy.run", testPayload{Name: "web"},
		EnqueueOptions{UserID: "u1"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	// Stop must block until the in-flight job finishes.
	m.Stop()
	assert.Equal(t, models.JobCompleted, getJob(t, m, job.ID).Status)
}

func TestStartupCleanupRequeues(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	abandoned := &models.Job{
		Queue:       "deploys",
		Type:        "deploy.run",
		Payload:     models.JSON(`{}`),
		MaxAttempts: 3,
		UserID:      "u1",
	}
	require.NoError(t, m.store.EnqueueJob(ctx, abandoned))
	_, err := m.store.ClaimNextJob(ctx, "deploys", "test-proc-deploys-0", time.Now().UTC())
	require.NoError(t, err)

	// No handlers registered: Start runs cleanup but spawns no pools.
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	stored := getJob(t, m, abandoned.ID)
	assert.Equal(t, models.JobWaiting, stored.Status)
	assert.Empty(t, stored.WorkerID)
}

func TestOrphanRecovery(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Stale job with retry budget left: requeued.
	fresh := &models.Job{Queue: "deploys", Type: "deploy.run", Payload: models.JSON(`{}`), MaxAttempts: 3, UserID: "u1"}
	require.NoError(t, m.store.EnqueueJob(ctx, fresh))
	_, err := m.store.ClaimNextJob(ctx, "deploys", "other-proc-deploys-0", time.Now().UTC())
	require.NoError(t, err)

	// Stale job with the budget spent: dead-lettered.
	spent := &models.Job{Queue: "deploys", Type: "deploy.run", Payload: models.JSON(`{}`), MaxAttempts: 1, UserID: "u1"}
	require.NoError(t, m.store.EnqueueJob(ctx, spent))
	_, err = m.store.ClaimNextJob(ctx, "deploys", "other-proc-deploys-1", time.Now().UTC())
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, m.store.Client().Model(&models.Job{}).
		Where("id IN ?", []string{fresh.ID, spent.ID}).
		Update("heartbeat_at", stale).Error)

	require.NoError(t, m.recoverOrphans(ctx))

	assert.Equal(t, models.JobWaiting, getJob(t, m, fresh.ID).Status)
	assert.Equal(t, models.JobFailed, getJob(t, m, spent.ID).Status)

	entries, err := m.store.ListDeadLetters(ctx, "u1", true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, spent.ID, entries[0].JobID)
	assert.Equal(t, models.FailureExhausted, entries[0].FailureReason)

	lastScan, recovered := m.OrphanStats()
	assert.False(t, lastScan.IsZero())
	assert.Equal(t, 2, recovered)
}

func TestPoolHealth(t *testing.T) {
	m := newTestManager(t)
	startQueue(t, m, "deploys", "deploy.run", noopHandler)

	// StartWorkers is idempotent
	require.NoError(t, m.StartWorkers(context.Background(), "deploys"))

	health := m.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "deploys", health[0].Queue)
	assert.Equal(t, 2, health[0].Concurrency)
	assert.True(t, health[0].Running)
	require.Len(t, health[0].Workers, 2)
	assert.True(t, strings.HasPrefix(health[0].Workers[0].WorkerID, "test-proc-deploys-"))
}
