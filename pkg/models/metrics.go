package models

import "time"

// Metric names understood by snapshots, time-series queries, and alert rules.
const (
	MetricQueueDepth      = "queue_depth"
	MetricActiveJobs      = "active_jobs"
	MetricFailedJobs      = "failed_jobs"
	MetricCompletedJobs   = "completed_jobs"
	MetricActiveAgents    = "active_agents"
	MetricIdleAgents      = "idle_agents"
	MetricJobsPerMinute   = "jobs_per_minute"
	MetricCostPerHour     = "cost_per_hour"
	MetricTokensPerMinute = "tokens_per_minute"
	MetricErrorRate       = "error_rate"
	MetricHealthScore     = "health_score"
	MetricBudgetUsage     = "budget_usage"
)

// KnownMetric reports whether name is a metric the substrate tracks.
func KnownMetric(name string) bool {
	switch name {
	case MetricQueueDepth, MetricActiveJobs, MetricFailedJobs, MetricCompletedJobs,
		MetricActiveAgents, MetricIdleAgents, MetricJobsPerMinute, MetricCostPerHour,
		MetricTokensPerMinute, MetricErrorRate, MetricHealthScore, MetricBudgetUsage:
		return true
	}
	return false
}

// HealthStatus buckets the health score into an operator-facing label.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// SystemMetrics is the current aggregate view of one user's substrate,
// assembled by the collector from queue and persistence state.
type SystemMetrics struct {
	UserID           string       `json:"user_id"`
	CollectedAt      time.Time    `json:"collected_at"`
	QueueDepth       int64        `json:"queue_depth"`
	ActiveJobs       int64        `json:"active_jobs"`
	FailedJobs       int64        `json:"failed_jobs"`
	CompletedJobs    int64        `json:"completed_jobs"`
	ActiveAgents     int64        `json:"active_agents"`
	IdleAgents       int64        `json:"idle_agents"`
	RegisteredAgents int64        `json:"registered_agents"`
	DeadLetterCount  int64        `json:"dead_letter_count"`
	JobsPerMinute    float64      `json:"jobs_per_minute"`
	TokensPerMinute  float64      `json:"tokens_per_minute"`
	CostPerHour      float64      `json:"cost_per_hour"`
	ErrorRate        float64      `json:"error_rate"`
	AvgJobDurationMS float64      `json:"avg_job_duration_ms"`
	AlertsFiring     int64        `json:"alerts_firing"`
	AlertsResolved   int64        `json:"alerts_resolved"`
	HealthScore      float64      `json:"health_score"`
	HealthStatus     HealthStatus `json:"health_status"`
}

// Value extracts a named metric from the aggregate view. The second return
// is false for metrics the view does not carry (e.g. budget_usage, which is
// supplied externally).
func (m SystemMetrics) Value(metric string) (float64, bool) {
	switch metric {
	case MetricQueueDepth:
		return float64(m.QueueDepth), true
	case MetricActiveJobs:
		return float64(m.ActiveJobs), true
	case MetricFailedJobs:
		return float64(m.FailedJobs), true
	case MetricCompletedJobs:
		return float64(m.CompletedJobs), true
	case MetricActiveAgents:
		return float64(m.ActiveAgents), true
	case MetricIdleAgents:
		return float64(m.IdleAgents), true
	case MetricJobsPerMinute:
		return m.JobsPerMinute, true
	case MetricCostPerHour:
		return m.CostPerHour, true
	case MetricTokensPerMinute:
		return m.TokensPerMinute, true
	case MetricErrorRate:
		return m.ErrorRate, true
	case MetricHealthScore:
		return m.HealthScore, true
	}
	return 0, false
}

// MetricSnapshot is one minute-resolution row of aggregate metrics for one
// user. Rows are unique on (bucket, user) and retained for 30 days.
type MetricSnapshot struct {
	Base
	Bucket          time.Time `gorm:"not null;uniqueIndex:uniq_snapshots_bucket_user;index" json:"bucket"`
	UserID          string    `gorm:"size:128;not null;uniqueIndex:uniq_snapshots_bucket_user" json:"user_id"`
	QueueDepth      int64     `gorm:"not null;default:0" json:"queue_depth"`
	ActiveJobs      int64     `gorm:"not null;default:0" json:"active_jobs"`
	FailedJobs      int64     `gorm:"not null;default:0" json:"failed_jobs"`
	CompletedJobs   int64     `gorm:"not null;default:0" json:"completed_jobs"`
	ActiveAgents    int64     `gorm:"not null;default:0" json:"active_agents"`
	IdleAgents      int64     `gorm:"not null;default:0" json:"idle_agents"`
	JobsPerMinute   float64   `gorm:"not null;default:0" json:"jobs_per_minute"`
	CostPerHour     float64   `gorm:"not null;default:0" json:"cost_per_hour"`
	TokensPerMinute float64   `gorm:"not null;default:0" json:"tokens_per_minute"`
	ErrorRate       float64   `gorm:"not null;default:0" json:"error_rate"`
	HealthScore     float64   `gorm:"not null;default:0" json:"health_score"`
}

// MetricValue extracts a named metric from the snapshot for time-series
// bucketing.
func (s MetricSnapshot) MetricValue(metric string) (float64, bool) {
	switch metric {
	case MetricQueueDepth:
		return float64(s.QueueDepth), true
	case MetricActiveJobs:
		return float64(s.ActiveJobs), true
	case MetricFailedJobs:
		return float64(s.FailedJobs), true
	case MetricCompletedJobs:
		return float64(s.CompletedJobs), true
	case MetricActiveAgents:
		return float64(s.ActiveAgents), true
	case MetricIdleAgents:
		return float64(s.IdleAgents), true
	case MetricJobsPerMinute:
		return s.JobsPerMinute, true
	case MetricCostPerHour:
		return s.CostPerHour, true
	case MetricTokensPerMinute:
		return s.TokensPerMinute, true
	case MetricErrorRate:
		return s.ErrorRate, true
	case MetricHealthScore:
		return s.HealthScore, true
	}
	return 0, false
}
