// Package queue implements the durable job queue: typed handler
// registration, enqueue with idempotency-key dedupe, per-queue worker
// pools that claim jobs with SKIP LOCKED semantics, heartbeats, retry
// backoff, dead-lettering, and orphan recovery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

const (
	// DefaultMaxAttempts is the retry budget applied when an enqueue
	// request does not specify one.
	DefaultMaxAttempts = 3

	// DefaultBackoffBaseMS seeds the exponential backoff schedule.
	DefaultBackoffBaseMS = 1000

	// MaxBackoffMS caps the exponential backoff delay before jitter.
	MaxBackoffMS = 60_000
)

// LogSink receives streaming progress lines from a running handler.
// Lines are advisory; a sink must never block the handler for long.
type LogSink interface {
	Log(level string, message string)
}

// Handler processes one claimed job. The payload is a pointer to the
// prototype registered for the job type, already decoded and validated.
// Returning nil marks the job completed. Returning an error wrapped in
// Permanent (or failing validation) dead-letters the job immediately;
// any other error is retried until the attempt budget is spent.
type Handler func(ctx context.Context, job *models.Job, payload any, sink LogSink) error

// PermanentError marks a handler failure as non-retryable. The job is
// moved straight to failed with a dead-letter entry instead of being
// rescheduled.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the worker dead-letters the job instead of
// retrying it. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ValidationError reports a rejected enqueue request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s: %s", e.Field, e.Msg)
}

// EnqueueOptions tune a single enqueue request. The zero value applies
// the queue defaults.
type EnqueueOptions struct {
	// Priority orders claims within a queue; lower is claimed first.
	Priority int

	// MaxAttempts overrides the retry budget (default 3).
	MaxAttempts int

	// BackoffBaseMS overrides the backoff seed (default 1000).
	BackoffBaseMS int64

	// DelayMS schedules the job to become claimable in the future.
	DelayMS int64

	// TimeoutMS overrides the per-invocation deadline; zero uses the
	// configured queue default.
	TimeoutMS int64

	// UserID attributes the job to a tenant for telemetry and metrics.
	UserID string

	// MissionID links the job to the mission that spawned it.
	MissionID string

	// IdempotencyKey dedupes enqueues: a matching non-dead job in the
	// same queue within the dedupe window is returned instead of a new
	// row.
	IdempotencyKey string
}

// WorkerHealth is a point-in-time view of one worker goroutine.
type WorkerHealth struct {
	WorkerID      string     `json:"worker_id"`
	CurrentJobID  string     `json:"current_job_id,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	JobsProcessed int        `json:"jobs_processed"`
}

// PoolHealth is a point-in-time view of one queue's worker pool.
type PoolHealth struct {
	Queue       string         `json:"queue"`
	Concurrency int            `json:"concurrency"`
	Running     bool           `json:"running"`
	Workers     []WorkerHealth `json:"workers"`
}
