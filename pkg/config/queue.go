package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// DefaultConcurrency is the worker count used when StartWorkers is
	// called with concurrency <= 0.
	DefaultConcurrency int `yaml:"default_concurrency"`

	// PollInterval is the base sleep between empty claim attempts.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter applied to PollInterval.
	// Actual sleep: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the per-job deadline applied when a job carries no
	// timeout of its own.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// HeartbeatInterval is how often a worker stamps heartbeat_at on the
	// job it is running.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for jobs whose worker
	// stopped heartbeating.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how stale a heartbeat must be before the job is
	// considered abandoned and requeued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// GracefulShutdownTimeout is the max time to wait for in-flight jobs
	// during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// IdempotencyWindow is how far back enqueue looks for a matching
	// idempotency key before inserting a new job.
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		DefaultConcurrency:      5,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		JobTimeout:              5 * time.Minute,
		HeartbeatInterval:       10 * time.Second,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         2 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		IdempotencyWindow:       24 * time.Hour,
	}
}
