package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment override names. Every one is optional; set values win over
// both defaults and gpilot.yaml.
const (
	EnvDBURL                = "DB_URL"
	EnvServerAddr           = "GPILOT_ADDR"
	EnvQueuePollIntervalMS  = "QUEUE_POLL_INTERVAL_MS"
	EnvQueueConcurrency     = "QUEUE_DEFAULT_CONCURRENCY"
	EnvJobTimeoutMS         = "JOB_DEFAULT_TIMEOUT_MS"
	EnvDAGParallelismCap    = "DAG_PARALLELISM_CAP"
	EnvSnapshotIntervalMS   = "METRICS_SNAPSHOT_INTERVAL_MS"
	EnvAlertEvalIntervalMS  = "ALERT_EVAL_INTERVAL_MS"
	EnvWebhookTimeoutMS     = "WEBHOOK_TIMEOUT_MS"
	EnvWebhookMaxAttempts   = "WEBHOOK_MAX_ATTEMPTS"
	EnvHMACToleranceSeconds = "HMAC_WEBHOOK_TOLERANCE_SECONDS"
)

// applyEnvOverrides layers environment variables on top of the merged
// configuration. Unparseable values are logged and skipped so a typo
// degrades to the configured value instead of crashing startup.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDBURL); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.Server.Addr = v
	}

	if d, ok := envMillis(EnvQueuePollIntervalMS); ok {
		cfg.Queue.PollInterval = d
		// Keep the documented ±20% jitter ratio when the base changes.
		cfg.Queue.PollIntervalJitter = d / 5
	}
	if n, ok := envInt(EnvQueueConcurrency); ok {
		cfg.Queue.DefaultConcurrency = n
	}
	if d, ok := envMillis(EnvJobTimeoutMS); ok {
		cfg.Queue.JobTimeout = d
	}
	if n, ok := envInt(EnvDAGParallelismCap); ok {
		cfg.Mission.ParallelismCap = n
	}
	if d, ok := envMillis(EnvSnapshotIntervalMS); ok {
		cfg.Metrics.SnapshotInterval = d
	}
	if d, ok := envMillis(EnvAlertEvalIntervalMS); ok {
		cfg.Alerts.EvalInterval = d
	}
	if d, ok := envMillis(EnvWebhookTimeoutMS); ok {
		cfg.Webhooks.Timeout = d
	}
	if n, ok := envInt(EnvWebhookMaxAttempts); ok {
		cfg.Webhooks.MaxAttempts = n
	}
	if n, ok := envInt(EnvHMACToleranceSeconds); ok {
		cfg.Webhooks.SignatureTolerance = time.Duration(n) * time.Second
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring unparseable environment override",
			"var", name,
			"value", v,
			"error", err)
		return 0, false
	}
	return n, true
}

func envMillis(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
