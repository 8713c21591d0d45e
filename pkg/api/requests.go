package api

import "encoding/json"

// EnqueueJobRequest is the HTTP request body for POST /api/v1/jobs.
type EnqueueJobRequest struct {
	Queue          string          `json:"queue"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	BackoffBaseMS  int64           `json:"backoff_base_ms,omitempty"`
	DelayMS        int64           `json:"delay_ms,omitempty"`
	TimeoutMS      int64           `json:"timeout_ms,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}
