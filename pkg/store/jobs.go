package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// EnqueueJob persists a new job in waiting or delayed status. The caller is
// responsible for idempotency-key lookups; this is a plain insert.
func (s *Store) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobWaiting
	}
	if err := s.db(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue job: %w", translateError(err))
	}
	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get job: %w", translateError(err))
	}
	return &job, nil
}

// FindJobByIdempotencyKey returns the most recent non-dead job in the queue
// carrying the key, enqueued at or after since. ErrNotFound when absent.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, queue, key string, since time.Time) (*models.Job, error) {
	var job models.Job
	err := s.db(ctx).
		Where("queue = ? AND idempotency_key = ?", queue, key).
		Where("status <> ?", models.JobDead).
		Where("enqueued_at >= ?", since).
		Order("enqueued_at DESC").
		First(&job).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find job by idempotency key: %w", translateError(err))
	}
	return &job, nil
}

// ClaimNextJob atomically claims the next runnable job in the queue: the
// lowest (priority, enqueued_at) job that is waiting, or delayed with an
// elapsed delay. The claimed job is flipped to active with started_at,
// heartbeat_at and worker_id stamped and attempts incremented. Concurrent
// callers never receive the same job: Postgres locks the candidate row with
// FOR UPDATE SKIP LOCKED, SQLite serializes on its single connection.
// Returns ErrNoJobsAvailable when the queue has nothing runnable.
func (s *Store) ClaimNextJob(ctx context.Context, queue, workerID string, now time.Time) (*models.Job, error) {
	var claimed *models.Job
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Where("queue = ?", queue).
			Where("status = ? OR (status = ? AND delayed_until <= ?)",
				models.JobWaiting, models.JobDelayed, now).
			Order("priority ASC").
			Order("enqueued_at ASC")
		if s.supportsSkipLocked() {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.Job
		if err := query.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoJobsAvailable
			}
			return err
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status IN ?", job.ID,
				[]models.JobStatus{models.JobWaiting, models.JobDelayed}).
			Updates(map[string]any{
				"status":        models.JobActive,
				"started_at":    now,
				"heartbeat_at":  now,
				"worker_id":     workerID,
				"delayed_until": nil,
				"attempts":      gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// The locked row changed state underneath us.
			return &ConsistencyError{Op: "claim-next-job", Detail: "job " + job.ID + " changed state during claim"}
		}

		job.Status = models.JobActive
		job.StartedAt = &now
		job.HeartbeatAt = &now
		job.WorkerID = workerID
		job.DelayedUntil = nil
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoJobsAvailable) || IsConsistencyError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}
	return claimed, nil
}

// MarkJobCompleted finishes an active job. Completing a job that is no
// longer active is a consistency violation.
func (s *Store) MarkJobCompleted(ctx context.Context, id string, now time.Time) error {
	res := s.db(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(map[string]any{
			"status":       models.JobCompleted,
			"completed_at": now,
			"error":        "",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "mark-job-completed", Detail: "job " + id + " is not active"}
	}
	return nil
}

// MarkJobDelayed re-schedules an active job for a retry at delayedUntil.
func (s *Store) MarkJobDelayed(ctx context.Context, id string, delayedUntil time.Time, errMsg string) error {
	res := s.db(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(map[string]any{
			"status":        models.JobDelayed,
			"delayed_until": delayedUntil,
			"error":         errMsg,
			"worker_id":     "",
			"heartbeat_at":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job delayed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "mark-job-delayed", Detail: "job " + id + " is not active"}
	}
	return nil
}

// FailJobWithDeadLetter terminally fails a job and parks a dead-letter
// snapshot of it in the same transaction.
func (s *Store) FailJobWithDeadLetter(ctx context.Context, job *models.Job, failureReason, lastError string, now time.Time) (*models.DeadLetterEntry, error) {
	entry := &models.DeadLetterEntry{
		JobID:         job.ID,
		Queue:         job.Queue,
		JobType:       job.Type,
		Payload:       job.Payload,
		FailureReason: failureReason,
		LastError:     lastError,
		Attempts:      job.Attempts,
		UserID:        job.UserID,
		EnteredAt:     now,
	}
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobActive).
			Updates(map[string]any{
				"status":       models.JobFailed,
				"completed_at": now,
				"error":        lastError,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConsistencyError{Op: "fail-job", Detail: "job " + job.ID + " is not active"}
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		if IsConsistencyError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return entry, nil
}

// MarkJobDead buries a failed job once its dead-letter entry is resolved.
func (s *Store) MarkJobDead(ctx context.Context, id string) error {
	res := s.db(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobFailed).
		Update("status", models.JobDead)
	if res.Error != nil {
		return fmt.Errorf("failed to mark job dead: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "bury-job", Detail: "job " + id + " is not failed"}
	}
	return nil
}

// HeartbeatJob stamps heartbeat_at on a running job so the orphan detector
// knows its worker is alive.
func (s *Store) HeartbeatJob(ctx context.Context, id, workerID string, now time.Time) error {
	res := s.db(ctx).Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", id, workerID, models.JobActive).
		Update("heartbeat_at", now)
	if res.Error != nil {
		return fmt.Errorf("failed to heartbeat job: %w", res.Error)
	}
	return nil
}

// ListStalledJobs returns active jobs whose heartbeat is older than cutoff.
func (s *Store) ListStalledJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db(ctx).
		Where("status = ?", models.JobActive).
		Where("heartbeat_at IS NULL OR heartbeat_at < ?", cutoff).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	return jobs, nil
}

// RequeueJob returns an active job to waiting so another worker can claim
// it, without touching its attempt counter.
func (s *Store) RequeueJob(ctx context.Context, id string) error {
	res := s.db(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobActive).
		Updates(map[string]any{
			"status":       models.JobWaiting,
			"worker_id":    "",
			"started_at":   nil,
			"heartbeat_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to requeue job: %w", res.Error)
	}
	return nil
}

// RequeueWorkerJobs returns every active job whose worker ID starts with
// the given prefix back to waiting. Used on startup to reclaim jobs a
// previous run of this process abandoned.
func (s *Store) RequeueWorkerJobs(ctx context.Context, workerPrefix string) (int64, error) {
	res := s.db(ctx).Model(&models.Job{}).
		Where("status = ? AND worker_id LIKE ?", models.JobActive, workerPrefix+"%").
		Updates(map[string]any{
			"status":       models.JobWaiting,
			"worker_id":    "",
			"started_at":   nil,
			"heartbeat_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue worker jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListWorkerJobs returns active jobs claimed by the given worker.
func (s *Store) ListWorkerJobs(ctx context.Context, workerID string) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db(ctx).
		Where("status = ? AND worker_id = ?", models.JobActive, workerID).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list worker jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus returns the point-in-time census of one queue.
func (s *Store) CountJobsByStatus(ctx context.Context, queue string) (models.QueueCounts, error) {
	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := s.db(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS n").
		Where("queue = ?", queue).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	var counts models.QueueCounts
	for _, r := range rows {
		switch r.Status {
		case models.JobWaiting:
			counts.Waiting = r.N
		case models.JobActive:
			counts.Active = r.N
		case models.JobCompleted:
			counts.Completed = r.N
		case models.JobFailed:
			counts.Failed = r.N
		case models.JobDelayed:
			counts.Delayed = r.N
		}
	}
	return counts, nil
}

// UserQueueCounts aggregates job counts for one user across all queues.
func (s *Store) UserQueueCounts(ctx context.Context, userID string) (models.QueueCounts, error) {
	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := s.db(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("failed to count user jobs: %w", err)
	}
	var counts models.QueueCounts
	for _, r := range rows {
		switch r.Status {
		case models.JobWaiting:
			counts.Waiting = r.N
		case models.JobActive:
			counts.Active = r.N
		case models.JobCompleted:
			counts.Completed = r.N
		case models.JobFailed:
			counts.Failed = r.N
		case models.JobDelayed:
			counts.Delayed = r.N
		}
	}
	return counts, nil
}

// CountJobsFinishedSince counts user jobs that reached the given statuses
// at or after since.
func (s *Store) CountJobsFinishedSince(ctx context.Context, userID string, statuses []models.JobStatus, since time.Time) (int64, error) {
	var n int64
	err := s.db(ctx).Model(&models.Job{}).
		Where("user_id = ? AND status IN ? AND completed_at >= ?", userID, statuses, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count finished jobs: %w", err)
	}
	return n, nil
}

// AvgJobDurationSince averages the wall time of user jobs completed at or
// after since, in milliseconds. Returns 0 when no jobs completed.
func (s *Store) AvgJobDurationSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	type row struct {
		StartedAt   *time.Time
		CompletedAt *time.Time
	}
	var rows []row
	err := s.db(ctx).Model(&models.Job{}).
		Select("started_at, completed_at").
		Where("user_id = ? AND status = ? AND completed_at >= ?", userID, models.JobCompleted, since).
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load job durations: %w", err)
	}
	var total float64
	var n int
	for _, r := range rows {
		if r.StartedAt == nil || r.CompletedAt == nil {
			continue
		}
		total += float64(r.CompletedAt.Sub(*r.StartedAt).Milliseconds())
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// ActiveUsersSince lists distinct users with job activity at or after since.
// The snapshotter uses it to decide whose metrics to snapshot.
func (s *Store) ActiveUsersSince(ctx context.Context, since time.Time) ([]string, error) {
	var users []string
	err := s.db(ctx).Model(&models.Job{}).
		Distinct("user_id").
		Where("enqueued_at >= ? AND user_id <> ''", since).
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}

// DeleteTerminalJobsBefore removes completed and dead jobs that finished
// before cutoff. Returns the number of rows removed.
func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).
		Where("status IN ? AND completed_at < ?",
			[]models.JobStatus{models.JobCompleted, models.JobDead}, cutoff).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
