package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// orphanState tracks orphan detection bookkeeping (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runOrphanDetection periodically scans for jobs whose worker stopped
// heartbeating. All replicas run this independently; the operations are
// idempotent.
func (m *Manager) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(m.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.recoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// recoverOrphans requeues active jobs with a stale heartbeat. The
// attempt was charged at claim time, so a job whose worker keeps dying
// burns through its retry budget; once the budget is spent the job is
// dead-lettered instead of requeued.
func (m *Manager) recoverOrphans(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.config.OrphanThreshold)
	stalled, err := m.store.ListStalledJobs(ctx, cutoff)
	if err != nil {
		return err
	}

	m.orphans.mu.Lock()
	m.orphans.lastScan = time.Now()
	m.orphans.mu.Unlock()

	if len(stalled) == 0 {
		return nil
	}

	slog.Warn("Detected orphaned jobs", "count", len(stalled))

	recovered := 0
	now := time.Now().UTC()
	for i := range stalled {
		job := &stalled[i]
		log := slog.With("job_id", job.ID, "queue", job.Queue, "worker_id", job.WorkerID)

		if job.Attempts >= job.MaxAttempts {
			if _, err := m.store.FailJobWithDeadLetter(ctx, job, models.FailureExhausted, "worker heartbeat lost", now); err != nil {
				log.Error("Failed to dead-letter orphaned job", "error", err)
				continue
			}
			if m.metrics != nil {
				m.metrics.jobsDead.WithLabelValues(job.Queue, models.FailureExhausted).Inc()
			}
			log.Warn("Orphaned job dead-lettered, retry budget spent", "attempts", job.Attempts)
			recovered++
			continue
		}

		if err := m.store.RequeueJob(ctx, job.ID); err != nil {
			log.Error("Failed to requeue orphaned job", "error", err)
			continue
		}
		log.Info("Orphaned job requeued", "attempts", job.Attempts)
		recovered++
	}

	m.orphans.mu.Lock()
	m.orphans.recovered += recovered
	m.orphans.mu.Unlock()
	if m.metrics != nil && recovered > 0 {
		m.metrics.RecordOrphans(recovered)
	}
	return nil
}

// OrphanStats reports the last scan time and the cumulative number of
// orphaned jobs recovered by this process.
func (m *Manager) OrphanStats() (lastScan time.Time, recovered int) {
	m.orphans.mu.Lock()
	defer m.orphans.mu.Unlock()
	return m.orphans.lastScan, m.orphans.recovered
}
