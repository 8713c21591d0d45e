package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id        string
	queue     string
	pool      *Pool
	store     *store.Store
	config    *config.QueueConfig
	registry  *Registry
	publisher *events.Publisher
	metrics   *Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	currentJobID  string
	claimedAt     *time.Time
	jobsProcessed int
}

func newWorker(id string, pool *Pool) *Worker {
	m := pool.manager
	return &Worker{
		id:        id,
		queue:     pool.queue,
		pool:      pool,
		store:     m.store,
		config:    m.config,
		registry:  m.registry,
		publisher: m.publisher,
		metrics:   m.metrics,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.signalStop()
	w.wait()
}

func (w *Worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) wait() {
	w.wg.Wait()
}

// Health returns the current worker state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		WorkerID:      w.id,
		CurrentJobID:  w.currentJobID,
		ClaimedAt:     w.claimedAt,
		JobsProcessed: w.jobsProcessed,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "queue", w.queue)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.claimAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error claiming job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the configured poll interval with jitter applied
// so idle workers don't hit the database in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return base + offset
}

// claimAndProcess claims the next runnable job and runs it to a
// terminal or rescheduled state.
func (w *Worker) claimAndProcess(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, w.queue, w.id, time.Now().UTC())
	if err != nil {
		return err
	}
	w.processJob(ctx, job)
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()
	log := slog.With("worker_id", w.id, "queue", w.queue, "job_id", job.ID, "job_type", job.Type)
	log.Info("Job claimed", "attempt", fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts))

	if w.metrics != nil {
		w.metrics.RecordClaim(w.queue)
	}

	w.setCurrent(job.ID, start)
	defer w.setCurrent("", time.Time{})

	// Invocation context: deadline from the job's timeout, cancellable
	// by shutdown after the grace period.
	timeout := w.config.JobTimeout
	if job.TimeoutMS > 0 {
		timeout = time.Duration(job.TimeoutMS) * time.Millisecond
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w.pool.registerJob(job.ID, cancel)
	defer w.pool.unregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	sink := &jobLogSink{log: log}
	err := w.invokeHandler(jobCtx, job, sink)
	cancelHeartbeat()

	duration := time.Since(start)
	now := time.Now().UTC()

	if err == nil {
		w.completeJob(job, now, duration, log)
	} else {
		w.handleFailure(jobCtx, job, err, now, duration, log)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
}

// invokeHandler resolves the handler, decodes the payload, and runs the
// handler with panic recovery. A missing handler or undecodable payload
// is a permanent failure; a panic is retryable.
func (w *Worker) invokeHandler(ctx context.Context, job *models.Job, sink LogSink) (err error) {
	reg, ok := w.registry.lookup(job.Queue, job.Type)
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for %s/%s", job.Queue, job.Type))
	}
	payload, err := reg.decodePayload([]byte(job.Payload))
	if err != nil {
		return Permanent(err)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Handler panicked",
				"worker_id", w.id,
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.handler(ctx, job, payload, sink)
}

// runHeartbeat periodically stamps heartbeat_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatJob(context.Background(), jobID, w.id, time.Now().UTC()); err != nil {
				slog.Warn("Heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// completeJob writes the terminal state and publishes the completion
// event. Uses a fresh context: the job context may already be done.
func (w *Worker) completeJob(job *models.Job, now time.Time, d time.Duration, log *slog.Logger) {
	if err := w.store.MarkJobCompleted(context.Background(), job.ID, now); err != nil {
		log.Error("Failed to mark job completed", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.RecordCompleted(w.queue, d)
	}
	w.publishTerminal(events.EventTypeJobCompleted, job, "")
	log.Info("Job completed", "duration_ms", d.Milliseconds())
}

// handleFailure reschedules a retryable failure with backoff or moves
// the job to the dead-letter queue when retries are spent or the error
// is permanent.
func (w *Worker) handleFailure(jobCtx context.Context, job *models.Job, handlerErr error, now time.Time, d time.Duration, log *slog.Logger) {
	// Terminal updates use a fresh context: jobCtx may be cancelled.
	ctx := context.Background()

	if errors.Is(handlerErr, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		log.Warn("Job deadline exceeded", "elapsed_ms", d.Milliseconds())
	}

	permanent := IsPermanent(handlerErr)
	if !permanent && job.Attempts < job.MaxAttempts {
		delay := backoffDelay(job.Attempts, job.BackoffBaseMS)
		until := now.Add(delay)
		if err := w.store.MarkJobDelayed(ctx, job.ID, until, handlerErr.Error()); err != nil {
			log.Error("Failed to schedule retry", "error", err)
			return
		}
		if w.metrics != nil {
			w.metrics.RecordRetry(w.queue, d)
		}
		log.Warn("Job failed, retry scheduled",
			"attempt", fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			"retry_at", until.Format(time.RFC3339),
			"error", handlerErr)
		return
	}

	reason := models.FailureExhausted
	if permanent {
		reason = models.FailurePermanent
	}
	entry, err := w.store.FailJobWithDeadLetter(ctx, job, reason, handlerErr.Error(), now)
	if err != nil {
		log.Error("Failed to dead-letter job", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.RecordDead(w.queue, reason, d)
	}
	w.publishTerminal(events.EventTypeJobFailed, job, handlerErr.Error())
	for _, hook := range w.pool.manager.deadLetterHooks(job.Queue) {
		hook(ctx, job, entry)
	}
	log.Error("Job dead-lettered",
		"reason", reason,
		"attempts", job.Attempts,
		"error", handlerErr)
}

// publishTerminal emits the job.completed or job.failed event.
// Best-effort: event delivery never affects job state.
func (w *Worker) publishTerminal(eventType string, job *models.Job, errMsg string) {
	if w.publisher == nil {
		return
	}
	payload := events.JobEventPayload{
		JobID:     job.ID,
		Queue:     job.Queue,
		JobType:   job.Type,
		Attempts:  job.Attempts,
		Error:     errMsg,
		MissionID: job.MissionID,
	}
	var err error
	if eventType == events.EventTypeJobCompleted {
		err = w.publisher.PublishJobCompleted(context.Background(), job.UserID, payload)
	} else {
		err = w.publisher.PublishJobFailed(context.Background(), job.UserID, payload)
	}
	if err != nil {
		slog.Warn("Failed to publish job event", "job_id", job.ID, "event", eventType, "error", err)
	}
}

func (w *Worker) setCurrent(jobID string, claimedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentJobID = jobID
	if jobID == "" {
		w.claimedAt = nil
	} else {
		w.claimedAt = &claimedAt
	}
}

// backoffDelay computes the retry delay after the given number of
// attempts: exponential from the base, capped, with up to 10% jitter
// added so synchronized failures don't retry in a thundering herd.
func backoffDelay(attempts int, baseMS int64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if baseMS <= 0 {
		baseMS = DefaultBackoffBaseMS
	}
	delay := float64(baseMS) * math.Pow(2, float64(attempts-1))
	if delay > MaxBackoffMS {
		delay = MaxBackoffMS
	}
	delay *= 1 + rand.Float64()*0.1
	return time.Duration(delay) * time.Millisecond
}

// jobLogSink adapts the worker's structured logger to the LogSink the
// handler receives.
type jobLogSink struct {
	log *slog.Logger
}

func (s *jobLogSink) Log(level, message string) {
	switch strings.ToLower(level) {
	case "error":
		s.log.Error(message)
	case "warn", "warning":
		s.log.Warn(message)
	case "debug":
		s.log.Debug(message)
	default:
		s.log.Info(message)
	}
}
