package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/store"
)

const (
	// QueueName is the task queue carrying delivery jobs.
	QueueName = "webhooks"

	// JobTypeDeliver is the job type for one delivery attempt.
	JobTypeDeliver = "webhook.deliver"

	userAgent        = "GPilot-Webhooks/1.0"
	maxResponseBytes = 1024
)

type deliverPayload struct {
	DeliveryID string `json:"delivery_id"`
}

func (p deliverPayload) Validate() error {
	if p.DeliveryID == "" {
		return fmt.Errorf("delivery_id is required")
	}
	return nil
}

// deliveryBody is the JSON shape POSTed to endpoints. Receivers verify the
// signature over these exact bytes, so the body is marshaled once at
// dispatch time and stored on the delivery row.
type deliveryBody struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Dispatcher fans domain events out to subscribed endpoints. Each matching
// endpoint gets its own delivery row and its own job on the webhooks
// queue, so one slow receiver never delays another.
type Dispatcher struct {
	store     *store.Store
	manager   *queue.Manager
	publisher *events.Publisher
	cfg       *config.WebhookConfig
	client    *http.Client
	logger    *slog.Logger
}

// NewDispatcher wires the fan-out side. publisher may be nil; it only
// carries delivery.failed events.
func NewDispatcher(st *store.Store, manager *queue.Manager, publisher *events.Publisher, cfg *config.WebhookConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		manager:   manager,
		publisher: publisher,
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With("component", "webhook_dispatcher"),
	}
}

// Register binds the delivery handler and the dead-letter hook to the
// webhooks queue.
func (d *Dispatcher) Register() error {
	if err := d.manager.Register(QueueName, JobTypeDeliver, deliverPayload{}, d.handleDeliver); err != nil {
		return err
	}
	d.manager.OnDeadLetter(QueueName, d.handleDeadLetter)
	return nil
}

// Consume implements events.DurableSink: every published event is offered
// to the webhook fan-out. Dispatch failures are logged, never propagated
// back to the emit site.
func (d *Dispatcher) Consume(ctx context.Context, event events.Event) {
	if err := d.Dispatch(ctx, event); err != nil {
		d.logger.Warn("Webhook dispatch failed", "event_type", event.Type, "event_id", event.ID, "error", err)
	}
}

// Dispatch creates one pending delivery per active subscribed endpoint and
// enqueues a delivery job for each. Events without a user are fleet
// telemetry and have no subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) error {
	if event.UserID == "" {
		return nil
	}

	endpoints, err := d.store.ListActiveEndpointsForEvent(ctx, event.UserID, event.Type)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return nil
	}

	// A delivery.failed event must not re-target the endpoint whose
	// failure produced it, or a dead endpoint subscribed to its own
	// failures would spiral.
	exclude := ""
	if event.Type == events.EventTypeDeliveryFailed {
		var p events.DeliveryFailedPayload
		if err := json.Unmarshal(event.Data, &p); err == nil {
			exclude = p.EndpointID
		}
	}

	body, err := json.Marshal(deliveryBody{
		ID:        event.ID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery body: %w", err)
	}

	var firstErr error
	for i := range endpoints {
		endpoint := &endpoints[i]
		if endpoint.ID == exclude {
			continue
		}
		if err := d.dispatchOne(ctx, endpoint, &event, body); err != nil {
			d.logger.Warn("Failed to dispatch to endpoint", "endpoint_id", endpoint.ID, "event_type", event.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) dispatchOne(ctx context.Context, endpoint *models.WebhookEndpoint, event *events.Event, body []byte) error {
	delivery := &models.WebhookDelivery{
		EndpointID:  endpoint.ID,
		EventID:     event.ID,
		EventType:   event.Type,
		Payload:     models.JSON(body),
		Status:      models.DeliveryPending,
		MaxAttempts: d.cfg.MaxAttempts,
	}
	if err := d.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		return err
	}

	_, err := d.manager.Enqueue(ctx, QueueName, JobTypeDeliver, deliverPayload{DeliveryID: delivery.ID}, queue.EnqueueOptions{
		UserID:        event.UserID,
		MaxAttempts:   d.cfg.MaxAttempts,
		BackoffBaseMS: d.cfg.BackoffBase.Milliseconds(),
	})
	return err
}

// handleDeliver performs one POST attempt for a delivery row.
func (d *Dispatcher) handleDeliver(ctx context.Context, job *models.Job, payload any, _ queue.LogSink) error {
	p := payload.(*deliverPayload)

	delivery, err := d.store.GetWebhookDelivery(ctx, p.DeliveryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Row cleaned up under retention while the job waited.
			return queue.Permanent(err)
		}
		return err
	}
	if delivery.Status == models.DeliverySent {
		return nil
	}

	endpoint, err := d.store.GetWebhookEndpoint(ctx, delivery.EndpointID)
	if errors.Is(err, store.ErrNotFound) {
		return d.abandon(ctx, delivery, "endpoint deleted")
	}
	if err != nil {
		return err
	}
	if !endpoint.IsActive {
		return d.abandon(ctx, delivery, "endpoint disabled")
	}

	delivery.Status = models.DeliveryRetrying
	delivery.Attempts++
	if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
		return err
	}

	now := time.Now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		delivery.Error = err.Error()
		d.saveOutcome(delivery)
		return queue.Permanent(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, Sign(string(endpoint.Secret), now, delivery.Payload))

	resp, err := d.client.Do(req)
	if err != nil {
		delivery.Error = err.Error()
		d.saveOutcome(delivery)
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer resp.Body.Close()

	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	delivery.ResponseCode = resp.StatusCode
	delivery.ResponseBody = string(buf)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Status = models.DeliverySent
		delivery.Error = ""
		delivery.SentAt = &now
		if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
			return err
		}
		d.logger.Info("Webhook delivered",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_type", delivery.EventType,
			"attempts", delivery.Attempts,
			"status_code", resp.StatusCode)
		return nil
	}

	delivery.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	d.saveOutcome(delivery)
	return fmt.Errorf("webhook delivery %s: endpoint returned status %d", delivery.ID, resp.StatusCode)
}

// abandon settles a delivery that can never succeed without dead-letter
// noise: the endpoint itself is gone or switched off.
func (d *Dispatcher) abandon(ctx context.Context, delivery *models.WebhookDelivery, reason string) error {
	delivery.Status = models.DeliveryFailed
	delivery.Error = reason
	if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
		return err
	}
	d.logger.Info("Webhook delivery abandoned", "delivery_id", delivery.ID, "reason", reason)
	return nil
}

// saveOutcome records attempt results on a best-effort background write;
// the attempt context may already be past its deadline.
func (d *Dispatcher) saveOutcome(delivery *models.WebhookDelivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
		d.logger.Warn("Failed to record delivery outcome", "delivery_id", delivery.ID, "error", err)
	}
}

// handleDeadLetter marks the delivery failed once its retry budget is
// spent and emits a delivery.failed event for the remaining subscribers.
func (d *Dispatcher) handleDeadLetter(ctx context.Context, job *models.Job, _ *models.DeadLetterEntry) {
	var p deliverPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		d.logger.Warn("Dead-lettered webhook job has malformed payload", "job_id", job.ID, "error", err)
		return
	}

	delivery, err := d.store.GetWebhookDelivery(ctx, p.DeliveryID)
	if err != nil {
		d.logger.Warn("Failed to load dead-lettered delivery", "delivery_id", p.DeliveryID, "error", err)
		return
	}

	delivery.Status = models.DeliveryFailed
	if err := d.store.UpdateWebhookDelivery(ctx, delivery); err != nil {
		d.logger.Warn("Failed to mark delivery failed", "delivery_id", delivery.ID, "error", err)
	}

	d.logger.Warn("Webhook delivery exhausted",
		"delivery_id", delivery.ID,
		"endpoint_id", delivery.EndpointID,
		"event_type", delivery.EventType,
		"attempts", delivery.Attempts)

	if d.publisher == nil {
		return
	}
	err = d.publisher.PublishDeliveryFailed(ctx, job.UserID, events.DeliveryFailedPayload{
		DeliveryID:   delivery.ID,
		EndpointID:   delivery.EndpointID,
		EventType:    delivery.EventType,
		Attempts:     delivery.Attempts,
		ResponseCode: delivery.ResponseCode,
		Error:        delivery.Error,
	})
	if err != nil {
		d.logger.Warn("Failed to publish delivery.failed", "delivery_id", delivery.ID, "error", err)
	}
}
