package api

import (
	"github.com/gpilot-io/gpilot/pkg/models"
)

// EnqueueResponse is returned by POST /api/v1/jobs and by dead-letter
// replay.
type EnqueueResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// MissionResponse is returned by POST /api/v1/missions and
// POST /api/v1/schedules/:id/run.
type MissionResponse struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
}

// WebhookEndpointResponse is returned by webhook endpoint creation.
// Secret is the plaintext signing secret, served exactly once; the stored
// copy is encrypted and never returned again.
type WebhookEndpointResponse struct {
	Endpoint *models.WebhookEndpoint `json:"endpoint"`
	Secret   string                  `json:"secret"`
}

// RotateSecretResponse is returned by POST /api/v1/webhooks/endpoints/:id/rotate.
type RotateSecretResponse struct {
	Secret string `json:"secret"`
}

// HealthCheck is one component's probe result inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
