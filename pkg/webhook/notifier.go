package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// NotifyAlert is the "webhook" notification channel of the alert
// evaluator. Unlike the subscription-driven Dispatch path, it targets the
// endpoints named on the rule itself (webhook_ids), so a rule can page a
// specific receiver that is not subscribed to alert events at large.
//
// Endpoints that are missing, disabled, or owned by another user are
// skipped with a warning. A rule with no webhook_ids is a no-op; the
// rule owner still sees the alert through the normal alert.triggered
// fan-out.
func (d *Dispatcher) NotifyAlert(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	if len(rule.WebhookIDs) == 0 {
		return nil
	}

	eventType := events.EventTypeAlertTriggered
	if firing.ResolvedAt != nil {
		eventType = events.EventTypeAlertResolved
	}
	event, err := events.NewEvent(eventType, rule.UserID, events.AlertEventPayload{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Metric:      rule.Metric,
		Condition:   string(rule.Condition),
		Threshold:   rule.Threshold,
		MetricValue: firing.MetricValue,
		Message:     firing.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to build alert event: %w", err)
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
	for _, id := range rule.WebhookIDs {
		endpoint, err := d.store.GetWebhookEndpoint(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.logger.Warn("Alert rule references missing webhook endpoint", "rule_id", rule.ID, "endpoint_id", id)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if endpoint.UserID != rule.UserID || !endpoint.IsActive {
			d.logger.Warn("Alert rule references unusable webhook endpoint", "rule_id", rule.ID, "endpoint_id", id)
			continue
		}
		if err := d.dispatchOne(ctx, endpoint, &event, body); err != nil {
			d.logger.Warn("Failed to dispatch alert to endpoint", "endpoint_id", endpoint.ID, "rule_id", rule.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
