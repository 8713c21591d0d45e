package config

import "fmt"

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateDatabase(); err != nil {
		return err
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateMission(); err != nil {
		return err
	}
	if err := v.validateIntervals(); err != nil {
		return err
	}
	if err := v.validateWebhooks(); err != nil {
		return err
	}
	if err := v.validateRetention(); err != nil {
		return err
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.Addr == "" {
		return NewValidationError("server", "addr", ErrMissingRequiredField)
	}
	if v.cfg.Server.ShutdownTimeout <= 0 {
		return NewValidationError("server", "shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateDatabase() error {
	if v.cfg.Database.URL == "" {
		return NewValidationError("database", "url", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.DefaultConcurrency < 1 {
		return NewValidationError("queue", "default_concurrency", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter", fmt.Errorf("%w: must be in [0, poll_interval)", ErrInvalidValue))
	}
	if q.JobTimeout <= 0 {
		return NewValidationError("queue", "job_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.HeartbeatInterval <= 0 {
		return NewValidationError("queue", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return NewValidationError("queue", "orphan_threshold", fmt.Errorf("%w: must exceed heartbeat_interval", ErrInvalidValue))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.IdempotencyWindow <= 0 {
		return NewValidationError("queue", "idempotency_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateMission() error {
	if v.cfg.Mission.ParallelismCap < 1 {
		return NewValidationError("mission", "parallelism_cap", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateIntervals() error {
	if v.cfg.Metrics.SnapshotInterval <= 0 {
		return NewValidationError("metrics", "snapshot_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.Metrics.CollectorWindow <= 0 {
		return NewValidationError("metrics", "collector_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.Alerts.EvalInterval <= 0 {
		return NewValidationError("alerts", "eval_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateWebhooks() error {
	w := v.cfg.Webhooks
	if w.Timeout <= 0 {
		return NewValidationError("webhooks", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if w.MaxAttempts < 1 {
		return NewValidationError("webhooks", "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if w.BackoffBase <= 0 {
		return NewValidationError("webhooks", "backoff_base", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if w.SignatureTolerance <= 0 {
		return NewValidationError("webhooks", "signature_tolerance", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if w.RotationInterval <= 0 {
		return NewValidationError("webhooks", "rotation_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.SnapshotRetentionDays < 1 {
		return NewValidationError("retention", "snapshot_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.DeliveryRetentionDays < 1 {
		return NewValidationError("retention", "delivery_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.JobRetentionDays < 1 {
		return NewValidationError("retention", "job_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
