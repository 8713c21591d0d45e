package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// DeadLetterHook runs after a job is dead-lettered. Hooks are invoked
// synchronously from the worker with a background-derived context, so
// they should be quick; anything slow belongs on another queue.
type DeadLetterHook func(ctx context.Context, job *models.Job, entry *models.DeadLetterEntry)

// Manager owns handler registration, enqueueing, and the per-queue
// worker pools. One Manager runs per process.
type Manager struct {
	processID string
	store     *store.Store
	config    *config.QueueConfig
	registry  *Registry
	publisher *events.Publisher
	metrics   *Metrics

	mu          sync.RWMutex
	pools       map[string]*Pool
	concurrency map[string]int
	hooks       map[string][]DeadLetterHook
	started     bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	orphans orphanState
}

// NewManager creates a queue manager. processID must be stable across
// restarts of the same replica so startup cleanup can find jobs the
// previous run abandoned. publisher and metrics may be nil.
func NewManager(processID string, st *store.Store, cfg *config.QueueConfig, publisher *events.Publisher, metrics *Metrics) *Manager {
	return &Manager{
		processID:   processID,
		store:       st,
		config:      cfg,
		registry:    NewRegistry(),
		publisher:   publisher,
		metrics:     metrics,
		pools:       make(map[string]*Pool),
		concurrency: make(map[string]int),
		hooks:       make(map[string][]DeadLetterHook),
		stopCh:      make(chan struct{}),
	}
}

// Register binds a handler and payload prototype to a (queue, job type)
// pair. All registration must happen before Start.
func (m *Manager) Register(queue, jobType string, prototype any, handler Handler) error {
	return m.registry.Register(queue, jobType, prototype, handler)
}

// SetConcurrency overrides the worker count for one queue. Takes effect
// when the queue's pool starts.
func (m *Manager) SetConcurrency(queue string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrency[queue] = n
}

// OnDeadLetter registers a hook invoked whenever a job on the queue is
// dead-lettered.
func (m *Manager) OnDeadLetter(queue string, hook DeadLetterHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[queue] = append(m.hooks[queue], hook)
}

func (m *Manager) deadLetterHooks(queue string) []DeadLetterHook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hooks[queue]
}

// Enqueue validates the payload against the registered prototype and
// persists a new job. When opts carries an idempotency key, a matching
// non-dead job enqueued within the dedupe window is returned instead of
// inserting a duplicate.
func (m *Manager) Enqueue(ctx context.Context, queue, jobType string, payload any, opts EnqueueOptions) (*models.Job, error) {
	reg, ok := m.registry.lookup(queue, jobType)
	if !ok {
		return nil, &ValidationError{Field: "type", Msg: fmt.Sprintf("no handler registered for %s/%s", queue, jobType)}
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Msg: err.Error()}
	}
	if _, err := reg.decodePayload(raw); err != nil {
		return nil, &ValidationError{Field: "payload", Msg: err.Error()}
	}
	if opts.DelayMS < 0 {
		return nil, &ValidationError{Field: "delay_ms", Msg: "must not be negative"}
	}
	if opts.MaxAttempts < 0 {
		return nil, &ValidationError{Field: "max_attempts", Msg: "must not be negative"}
	}

	now := time.Now().UTC()

	if opts.IdempotencyKey != "" {
		existing, err := m.store.FindJobByIdempotencyKey(ctx, queue, opts.IdempotencyKey, now.Add(-m.config.IdempotencyWindow))
		switch {
		case err == nil:
			slog.Debug("Enqueue deduplicated by idempotency key",
				"queue", queue,
				"job_type", jobType,
				"job_id", existing.ID)
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoffBase := opts.BackoffBaseMS
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBaseMS
	}

	job := &models.Job{
		Queue:          queue,
		Type:           jobType,
		Payload:        models.JSON(raw),
		Status:         models.JobWaiting,
		Priority:       opts.Priority,
		MaxAttempts:    maxAttempts,
		BackoffBaseMS:  backoffBase,
		TimeoutMS:      opts.TimeoutMS,
		EnqueuedAt:     now,
		UserID:         opts.UserID,
		MissionID:      opts.MissionID,
		IdempotencyKey: opts.IdempotencyKey,
	}
	if opts.DelayMS > 0 {
		until := now.Add(time.Duration(opts.DelayMS) * time.Millisecond)
		job.Status = models.JobDelayed
		job.DelayedUntil = &until
	}

	if err := m.store.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordEnqueue(queue)
	}

	slog.Info("Job enqueued",
		"queue", queue,
		"job_type", jobType,
		"job_id", job.ID,
		"status", job.Status,
		"priority", job.Priority)
	return job, nil
}

// marshalPayload normalizes the payload argument to raw JSON bytes.
func marshalPayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return v, nil
	case models.JSON:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// Start performs startup cleanup, launches the orphan detector, and
// starts a worker pool for every queue with registered job types. Safe
// to call once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		slog.Warn("Queue manager already started, ignoring duplicate Start call")
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.cleanupStartupOrphans(ctx); err != nil {
		return fmt.Errorf("startup cleanup failed: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runOrphanDetection(ctx)
	}()

	for _, queue := range m.registry.Queues() {
		if err := m.StartWorkers(ctx, queue); err != nil {
			return err
		}
	}

	slog.Info("Queue manager started", "process_id", m.processID, "queues", len(m.registry.Queues()))
	return nil
}

// StartWorkers starts the worker pool for one queue. No-op if the pool
// is already running.
func (m *Manager) StartWorkers(ctx context.Context, queue string) error {
	m.mu.Lock()
	pool, ok := m.pools[queue]
	if !ok {
		concurrency := m.concurrency[queue]
		if concurrency <= 0 {
			concurrency = m.config.DefaultConcurrency
		}
		pool = newPool(queue, concurrency, m)
		m.pools[queue] = pool
	}
	m.mu.Unlock()

	return pool.Start(ctx)
}

// StopWorkers gracefully stops the worker pool for one queue, waiting
// up to the configured shutdown grace for in-flight jobs.
func (m *Manager) StopWorkers(queue string) {
	m.mu.Lock()
	pool, ok := m.pools[queue]
	if ok {
		delete(m.pools, queue)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	pool.Stop(m.config.GracefulShutdownTimeout)
}

// Stop shuts the manager down: workers stop claiming, in-flight jobs
// get the configured grace to finish, and whatever is still running
// afterwards is cancelled. Jobs interrupted mid-run are recovered by
// orphan detection or the next startup cleanup.
func (m *Manager) Stop() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	slog.Info("Stopping queue manager", "pools", len(pools))

	for _, p := range pools {
		p.signalStop()
	}

	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.wait()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All queue workers stopped gracefully")
	case <-time.After(m.config.GracefulShutdownTimeout):
		slog.Warn("Shutdown grace exceeded, cancelling in-flight jobs",
			"grace", m.config.GracefulShutdownTimeout)
		for _, p := range pools {
			p.cancelActiveJobs()
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			slog.Error("Workers still running after cancellation, abandoning")
		}
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("Queue manager stopped")
}

// Counts returns a status census for one queue.
func (m *Manager) Counts(ctx context.Context, queue string) (models.QueueCounts, error) {
	return m.store.CountJobsByStatus(ctx, queue)
}

// UserCounts returns a status census for one user across all queues.
func (m *Manager) UserCounts(ctx context.Context, userID string) (models.QueueCounts, error) {
	return m.store.UserQueueCounts(ctx, userID)
}

// Queues returns every queue name with registered job types.
func (m *Manager) Queues() []string {
	return m.registry.Queues()
}

// Health reports the state of all running pools.
func (m *Manager) Health() []PoolHealth {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	health := make([]PoolHealth, 0, len(pools))
	for _, p := range pools {
		health = append(health, p.Health())
	}
	return health
}

// ReplayDeadLetter re-enqueues the job behind an open dead-letter entry
// with a fresh retry budget and resolves the entry.
func (m *Manager) ReplayDeadLetter(ctx context.Context, entryID string) (*models.Job, error) {
	job, err := m.store.ReplayDeadLetter(ctx, entryID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordEnqueue(job.Queue)
	}
	slog.Info("Dead-letter entry replayed",
		"entry_id", entryID,
		"queue", job.Queue,
		"job_id", job.ID)
	return job, nil
}

// PurgeDeadLetter resolves a dead-letter entry without replaying it.
func (m *Manager) PurgeDeadLetter(ctx context.Context, entryID string) error {
	if err := m.store.PurgeDeadLetter(ctx, entryID, time.Now().UTC()); err != nil {
		return err
	}
	slog.Info("Dead-letter entry purged", "entry_id", entryID)
	return nil
}

// cleanupStartupOrphans requeues active jobs left behind by a previous
// run of this process, identified by the worker ID prefix.
func (m *Manager) cleanupStartupOrphans(ctx context.Context) error {
	n, err := m.store.RequeueWorkerJobs(ctx, m.processID+"-")
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Requeued jobs abandoned by previous run",
			"process_id", m.processID,
			"count", n)
	}
	return nil
}
