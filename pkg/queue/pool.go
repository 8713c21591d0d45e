package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	queue       string
	concurrency int
	manager     *Manager
	workers     []*Worker

	// Cancel registry for in-flight jobs: job_id → cancel function.
	mu         sync.RWMutex
	activeJobs map[string]context.CancelFunc
	started    bool
}

func newPool(queue string, concurrency int, m *Manager) *Pool {
	return &Pool{
		queue:       queue,
		concurrency: concurrency,
		manager:     m,
		workers:     make([]*Worker, 0, concurrency),
		activeJobs:  make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "queue", p.queue)
		return nil
	}
	p.started = true

	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("%s-%s-%d", p.manager.processID, p.queue, i)
		worker := newWorker(workerID, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	p.mu.Unlock()

	slog.Info("Worker pool started", "queue", p.queue, "concurrency", p.concurrency)
	return nil
}

// Stop signals all workers to stop and waits up to grace for in-flight
// jobs to finish, then cancels whatever is still running.
func (p *Pool) Stop(grace time.Duration) {
	p.signalStop()

	done := make(chan struct{})
	go func() {
		p.wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully", "queue", p.queue)
	case <-time.After(grace):
		slog.Warn("Shutdown grace exceeded, cancelling in-flight jobs",
			"queue", p.queue,
			"jobs", p.activeJobIDs())
		p.cancelActiveJobs()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			slog.Error("Workers still running after cancellation", "queue", p.queue)
		}
	}
}

func (p *Pool) signalStop() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		w.signalStop()
	}
}

func (p *Pool) wait() {
	p.mu.RLock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()
	for _, w := range workers {
		w.wait()
	}
}

// registerJob stores a cancel function so shutdown can abort the job
// after the grace period.
func (p *Pool) registerJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// unregisterJob removes the cancel function when processing ends.
func (p *Pool) unregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

func (p *Pool) cancelActiveJobs() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cancel := range p.activeJobs {
		cancel()
	}
}

func (p *Pool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the current state of the pool and its workers.
func (p *Pool) Health() PoolHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workers := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		workers[i] = w.Health()
	}
	return PoolHealth{
		Queue:       p.queue,
		Concurrency: p.concurrency,
		Running:     p.started,
		Workers:     workers,
	}
}
