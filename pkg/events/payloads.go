package events

// JobEventPayload is the data for job.completed and job.failed events.
type JobEventPayload struct {
	JobID     string `json:"job_id"`
	Queue     string `json:"queue"`
	JobType   string `json:"job_type"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	MissionID string `json:"mission_id,omitempty"`
}

// MissionStatusPayload is the data for mission.started, mission.completed,
// and mission.failed events.
type MissionStatusPayload struct {
	MissionID  string `json:"mission_id"`
	Status     string `json:"status"` // PENDING, RUNNING, COMPLETED, FAILED
	FailedStep string `json:"failed_step,omitempty"`
	TotalCost  int64  `json:"total_cost,omitempty"`
	TokensUsed int64  `json:"tokens_used,omitempty"`
}

// MissionStepPayload is the data for mission.step progress events.
type MissionStepPayload struct {
	MissionID string `json:"mission_id"`
	StepName  string `json:"step_name"`
	AgentName string `json:"agent_name"`
	Outcome   string `json:"outcome"` // started, completed, failed, skipped
	Message   string `json:"message,omitempty"`
}

// AgentStatusPayload is the data for agent.status events.
type AgentStatusPayload struct {
	AgentName           string  `json:"agent_name"`
	Status              string  `json:"status"` // idle, active, failed
	CurrentJobID        string  `json:"current_job_id,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	AvgDurationMS       float64 `json:"avg_duration_ms"`
}

// AlertEventPayload is the data for alert.triggered and alert.resolved
// events.
type AlertEventPayload struct {
	RuleID      string  `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Metric      string  `json:"metric"`
	Condition   string  `json:"condition"`
	Threshold   float64 `json:"threshold"`
	MetricValue float64 `json:"metric_value"`
	Message     string  `json:"message"`
}

// MetricSnapshotPayload is the data for metrics.snapshot events, pushed to
// live dashboards every snapshot interval.
type MetricSnapshotPayload struct {
	Bucket       string  `json:"bucket"` // RFC3339, minute resolution
	QueueDepth   int64   `json:"queue_depth"`
	ActiveJobs   int64   `json:"active_jobs"`
	ErrorRate    float64 `json:"error_rate"`
	HealthScore  float64 `json:"health_score"`
	HealthStatus string  `json:"health_status"`
}

// DeliveryFailedPayload is the data for delivery.failed events, emitted
// when a webhook delivery exhausts its retry budget.
type DeliveryFailedPayload struct {
	DeliveryID   string `json:"delivery_id"`
	EndpointID   string `json:"endpoint_id"`
	EventType    string `json:"event_type"`
	Attempts     int    `json:"attempts"`
	ResponseCode int    `json:"response_code,omitempty"`
	Error        string `json:"error,omitempty"`
}
