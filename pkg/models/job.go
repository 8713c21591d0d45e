package models

import "time"

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
	JobDead      JobStatus = "dead"
)

// Valid reports whether s is a known job status code.
func (s JobStatus) Valid() bool {
	switch s {
	case JobWaiting, JobActive, JobCompleted, JobFailed, JobDelayed, JobDead:
		return true
	}
	return false
}

// Terminal reports whether a job in this status never transitions again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobDead
}

// Job is one unit of queued work. Only the task queue mutates Job rows;
// everything else holds read views.
type Job struct {
	Base
	Queue          string     `gorm:"size:128;not null;index:idx_jobs_queue_status" json:"queue"`
	Type           string     `gorm:"size:128;not null" json:"type"`
	Payload        JSON       `gorm:"type:text" json:"payload"`
	Status         JobStatus  `gorm:"size:16;not null;index:idx_jobs_queue_status" json:"status"`
	Priority       int        `gorm:"not null;default:0" json:"priority"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"not null;default:3" json:"max_attempts"`
	BackoffBaseMS  int64      `gorm:"not null;default:1000" json:"backoff_base_ms"`
	TimeoutMS      int64      `gorm:"not null;default:0" json:"timeout_ms"`
	DelayedUntil   *time.Time `json:"delayed_until,omitempty"`
	EnqueuedAt     time.Time  `gorm:"not null;index" json:"enqueued_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	UserID         string     `gorm:"size:128;index" json:"user_id"`
	MissionID      string     `gorm:"size:36;index" json:"mission_id,omitempty"`
	IdempotencyKey string     `gorm:"size:256;index" json:"idempotency_key,omitempty"`
	WorkerID       string     `gorm:"size:128" json:"worker_id,omitempty"`
}

// QueueCounts is a point-in-time census of one queue, keyed by status.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Depth is the number of jobs still waiting to run.
func (c QueueCounts) Depth() int64 {
	return c.Waiting + c.Delayed
}
