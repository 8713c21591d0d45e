package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DurableSink consumes every published event synchronously at the emit
// site. The webhook dispatcher registers here: durable fan-out must not
// ride on WebSocket delivery, which drops events on disconnect.
type DurableSink interface {
	Consume(ctx context.Context, event Event)
}

// Publisher broadcasts domain events for WebSocket delivery.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are wrapped in an Event envelope and
// routed to the owning user's channel (plus the system channel for
// fleet-level events). On Postgres the broadcast goes through pg_notify so
// every process's listener picks it up; otherwise it goes straight to the
// local Hub.
type Publisher struct {
	hub  *Hub
	db   *sql.DB // nil on SQLite; then hub delivery is direct
	sink DurableSink
}

// NewPublisher creates a Publisher. db should be the *sql.DB from
// database.Client.SQLDB() on Postgres, nil otherwise.
func NewPublisher(hub *Hub, db *sql.DB) *Publisher {
	return &Publisher{hub: hub, db: db}
}

// SetDurableSink installs the synchronous event consumer. Call during
// startup wiring, before any publish.
func (p *Publisher) SetDurableSink(sink DurableSink) {
	p.sink = sink
}

// --- Typed public methods ---

// PublishJobCompleted broadcasts a job.completed event to the job owner.
func (p *Publisher) PublishJobCompleted(ctx context.Context, userID string, payload JobEventPayload) error {
	return p.publishToUser(ctx, EventTypeJobCompleted, userID, payload)
}

// PublishJobFailed broadcasts a job.failed event to the job owner.
func (p *Publisher) PublishJobFailed(ctx context.Context, userID string, payload JobEventPayload) error {
	return p.publishToUser(ctx, EventTypeJobFailed, userID, payload)
}

// PublishMissionStatus broadcasts a mission lifecycle event to the mission
// owner and to the system channel for fleet dashboards. Both publishes are
// best-effort; the first error encountered is returned.
func (p *Publisher) PublishMissionStatus(ctx context.Context, eventType, userID string, payload MissionStatusPayload) error {
	event, err := NewEvent(eventType, userID, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MissionStatusPayload: %w", err)
	}
	p.consume(ctx, event)

	var firstErr error
	if err := p.publishEvent(ctx, UserChannel(userID), event); err != nil {
		slog.Warn("Failed to publish mission status to user channel",
			"mission_id", payload.MissionID, "status", payload.Status, "error", err)
		firstErr = err
	}
	if err := p.publishEvent(ctx, SystemChannel, event); err != nil {
		slog.Warn("Failed to publish mission status to system channel",
			"mission_id", payload.MissionID, "status", payload.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishMissionStep broadcasts a mission.step progress event.
func (p *Publisher) PublishMissionStep(ctx context.Context, userID string, payload MissionStepPayload) error {
	return p.publishToUser(ctx, EventTypeMissionStep, userID, payload)
}

// PublishAgentStatus broadcasts an agent.status event.
func (p *Publisher) PublishAgentStatus(ctx context.Context, userID string, payload AgentStatusPayload) error {
	return p.publishToUser(ctx, EventTypeAgentStatus, userID, payload)
}

// PublishAlertTriggered broadcasts an alert.triggered event.
func (p *Publisher) PublishAlertTriggered(ctx context.Context, userID string, payload AlertEventPayload) error {
	return p.publishToUser(ctx, EventTypeAlertTriggered, userID, payload)
}

// PublishAlertResolved broadcasts an alert.resolved event.
func (p *Publisher) PublishAlertResolved(ctx context.Context, userID string, payload AlertEventPayload) error {
	return p.publishToUser(ctx, EventTypeAlertResolved, userID, payload)
}

// PublishMetricSnapshot broadcasts a metrics.snapshot event for live
// dashboards.
func (p *Publisher) PublishMetricSnapshot(ctx context.Context, userID string, payload MetricSnapshotPayload) error {
	return p.publishToUser(ctx, EventTypeMetricSnapshot, userID, payload)
}

// PublishDeliveryFailed broadcasts a delivery.failed event.
func (p *Publisher) PublishDeliveryFailed(ctx context.Context, userID string, payload DeliveryFailedPayload) error {
	return p.publishToUser(ctx, EventTypeDeliveryFailed, userID, payload)
}

// --- Internal core methods ---

func (p *Publisher) publishToUser(ctx context.Context, eventType, userID string, payload any) error {
	event, err := NewEvent(eventType, userID, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	p.consume(ctx, event)
	return p.publishEvent(ctx, UserChannel(userID), event)
}

func (p *Publisher) consume(ctx context.Context, event Event) {
	if p.sink != nil {
		p.sink.Consume(ctx, event)
	}
}

// publishEvent routes one envelope to a channel. On Postgres it goes
// through pg_notify so every process delivers it; otherwise straight to
// the local Hub.
func (p *Publisher) publishEvent(ctx context.Context, channel string, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if p.db == nil {
		if p.hub != nil {
			p.hub.Broadcast(channel, raw)
		}
		return nil
	}

	payload, err := truncateIfNeeded(event, raw)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the payload as-is when it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise a minimal envelope with
// only routing fields. Clients seeing truncated:true reload over REST.
func truncateIfNeeded(event Event, raw []byte) (string, error) {
	if len(raw) <= 7900 {
		return string(raw), nil
	}

	truncated := map[string]any{
		"type":      event.Type,
		"event_id":  event.ID,
		"user_id":   event.UserID,
		"timestamp": event.Timestamp,
		"truncated": true,
	}
	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
