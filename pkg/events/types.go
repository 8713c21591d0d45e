// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-process distribution.
//
// Events here are transient telemetry: they power live dashboards and are
// lost on disconnect. Durable consumers (webhook fanout, the mission audit)
// are invoked directly at the emit site and never depend on this package's
// delivery guarantees. A client that reconnects reloads state over REST.
//
// On Postgres every publish goes through pg_notify so all processes see it;
// the NotifyListener bridges notifications back into the local Hub. On
// SQLite there is a single process and the publisher hands payloads to the
// Hub directly.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Domain event types.
const (
	EventTypeJobCompleted = "job.completed"
	EventTypeJobFailed    = "job.failed"

	EventTypeMissionStarted   = "mission.started"
	EventTypeMissionCompleted = "mission.completed"
	EventTypeMissionFailed    = "mission.failed"
	EventTypeMissionStep      = "mission.step"

	EventTypeAgentStatus = "agent.status"

	EventTypeAlertTriggered = "alert.triggered"
	EventTypeAlertResolved  = "alert.resolved"

	EventTypeMetricSnapshot = "metrics.snapshot"

	EventTypeDeliveryFailed = "delivery.failed"
)

// KnownType reports whether name is a domain event type. Webhook endpoint
// subscriptions are validated against this vocabulary.
func KnownType(name string) bool {
	switch name {
	case EventTypeJobCompleted, EventTypeJobFailed,
		EventTypeMissionStarted, EventTypeMissionCompleted, EventTypeMissionFailed, EventTypeMissionStep,
		EventTypeAgentStatus,
		EventTypeAlertTriggered, EventTypeAlertResolved,
		EventTypeMetricSnapshot,
		EventTypeDeliveryFailed:
		return true
	}
	return false
}

// SystemChannel carries cross-user operational events. Admin dashboards
// subscribe to this for a fleet-wide view.
const SystemChannel = "system"

// UserChannel returns the channel name for one user's events.
// Format: "user:{user_id}"
func UserChannel(userID string) string {
	return "user:" + userID
}

// Event is the envelope every domain event travels in. The same shape is
// consumed by WebSocket clients and signed into webhook delivery bodies.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// NewEvent builds an envelope around a payload, stamping id and timestamp.
// Marshal errors surface at publish time, not here; data is marshaled
// eagerly so a bad payload fails fast.
func NewEvent(eventType, userID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "user:abc-123" or "system"
}
