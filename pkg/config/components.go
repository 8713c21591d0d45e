package config

import "time"

// MissionConfig controls the DAG mission executor.
type MissionConfig struct {
	// ParallelismCap bounds how many steps of one mission run concurrently,
	// independent of queue worker counts.
	ParallelismCap int `yaml:"parallelism_cap"`
}

// DefaultMissionConfig returns the built-in mission defaults.
func DefaultMissionConfig() *MissionConfig {
	return &MissionConfig{
		ParallelismCap: 8,
	}
}

// MetricsConfig controls the collector and snapshotter.
type MetricsConfig struct {
	// SnapshotInterval is how often a per-minute snapshot row is written.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// CollectorWindow is the lookback used for rate metrics such as
	// jobs_per_minute and error_rate.
	CollectorWindow time.Duration `yaml:"collector_window"`
}

// DefaultMetricsConfig returns the built-in metrics defaults.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		SnapshotInterval: 1 * time.Minute,
		CollectorWindow:  5 * time.Minute,
	}
}

// AlertsConfig controls the alert evaluator.
type AlertsConfig struct {
	// EvalInterval is how often active rules are evaluated against the
	// latest metrics.
	EvalInterval time.Duration `yaml:"eval_interval"`
}

// DefaultAlertsConfig returns the built-in alerting defaults.
func DefaultAlertsConfig() *AlertsConfig {
	return &AlertsConfig{
		EvalInterval: 1 * time.Minute,
	}
}

// WebhookConfig controls outbound webhook delivery.
type WebhookConfig struct {
	// Timeout bounds each delivery POST.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the delivery retry budget.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase seeds the exponential delivery backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// SignatureTolerance is the max age of a signed timestamp accepted by
	// VerifySignature.
	SignatureTolerance time.Duration `yaml:"signature_tolerance"`

	// RotationInterval is the minimum spacing between secret rotations per
	// endpoint.
	RotationInterval time.Duration `yaml:"rotation_interval"`
}

// DefaultWebhookConfig returns the built-in webhook defaults.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Timeout:            10 * time.Second,
		MaxAttempts:        5,
		BackoffBase:        2 * time.Second,
		SignatureTolerance: 5 * time.Minute,
		RotationInterval:   1 * time.Hour,
	}
}

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// SnapshotRetentionDays is how many days of metric snapshots to keep.
	SnapshotRetentionDays int `yaml:"snapshot_retention_days"`

	// DeliveryRetentionDays is how many days of webhook delivery records
	// to keep.
	DeliveryRetentionDays int `yaml:"delivery_retention_days"`

	// JobRetentionDays is how many days to keep completed and dead jobs.
	JobRetentionDays int `yaml:"job_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SnapshotRetentionDays: 30,
		DeliveryRetentionDays: 30,
		JobRetentionDays:      7,
		CleanupInterval:       12 * time.Hour,
	}
}
