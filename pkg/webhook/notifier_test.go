package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
)

func testRule(userID string, webhookIDs ...string) *models.AlertRule {
	return &models.AlertRule{
		UserID:     userID,
		Name:       "high error rate",
		Metric:     "error_rate",
		Condition:  models.ConditionGT,
		Threshold:  0.5,
		Channels:   models.StringList{models.ChannelWebhook},
		WebhookIDs: models.StringList(webhookIDs),
	}
}

func TestNotifyAlertTargetsRuleEndpoints(t *testing.T) {
	dispatcher, svc, st, _ := newTestDispatcher(t, true)
	ctx := context.Background()

	cap := &capture{}
	server := httptest.NewServer(cap.handler(http.StatusOK, "ok"))
	t.Cleanup(server.Close)

	// The endpoint is not subscribed to alert events; the rule names it
	// directly.
	endpoint, _, err := svc.CreateEndpoint(ctx, "alice", EndpointInput{
		URL:    server.URL,
		Events: []string{events.EventTypeMissionCompleted},
	})
	require.NoError(t, err)

	rule := testRule("alice", endpoint.ID)
	require.NoError(t, st.CreateAlertRule(ctx, rule))

	firing := &models.AlertFiring{
		RuleID:      rule.ID,
		UserID:      "alice",
		Metric:      "error_rate",
		MetricValue: 0.75,
		Message:     "high error rate: error_rate gt 0.5 (current 0.75)",
		TriggeredAt: time.Now().UTC(),
	}
	require.NoError(t, dispatcher.NotifyAlert(ctx, rule, firing))

	delivery := waitForDelivery(t, st, endpoint.ID, models.DeliverySent)
	assert.Equal(t, events.EventTypeAlertTriggered, delivery.EventType)

	var body deliveryBody
	require.NoError(t, json.Unmarshal(delivery.Payload, &body))
	var payload events.AlertEventPayload
	require.NoError(t, json.Unmarshal(body.Data, &payload))
	assert.Equal(t, rule.ID, payload.RuleID)
	assert.Equal(t, 0.75, payload.MetricValue)
}

func TestNotifyAlertResolvedEventType(t *testing.T) {
	dispatcher, svc, st, _ := newTestDispatcher(t, true)
	ctx := context.Background()

	server := httptest.NewServer((&capture{}).handler(http.StatusOK, "ok"))
	t.Cleanup(server.Close)

	endpoint, _, err := svc.CreateEndpoint(ctx, "alice", EndpointInput{
		URL:    server.URL,
		Events: []string{events.EventTypeAlertTriggered},
	})
	require.NoError(t, err)

	rule := testRule("alice", endpoint.ID)
	require.NoError(t, st.CreateAlertRule(ctx, rule))

	resolved := time.Now().UTC()
	firing := &models.AlertFiring{
		RuleID:      rule.ID,
		UserID:      "alice",
		Metric:      "error_rate",
		MetricValue: 0.1,
		TriggeredAt: resolved.Add(-time.Minute),
		ResolvedAt:  &resolved,
	}
	require.NoError(t, dispatcher.NotifyAlert(ctx, rule, firing))

	delivery := waitForDelivery(t, st, endpoint.ID, models.DeliverySent)
	assert.Equal(t, events.EventTypeAlertResolved, delivery.EventType)
}

func TestNotifyAlertSkipsUnusableEndpoints(t *testing.T) {
	dispatcher, svc, st, _ := newTestDispatcher(t, false)
	ctx := context.Background()

	// Disabled endpoint, foreign endpoint, and a dangling id.
	disabled, _, err := svc.CreateEndpoint(ctx, "alice", EndpointInput{
		URL:    "https://example.com/hook",
		Events: []string{events.EventTypeAlertTriggered},
	})
	require.NoError(t, err)
	inactive := false
	_, err = svc.UpdateEndpoint(ctx, "alice", disabled.ID, EndpointInput{
		URL:      "https://example.com/hook",
		Events:   []string{events.EventTypeAlertTriggered},
		IsActive: &inactive,
	})
	require.NoError(t, err)

	foreign, _, err := svc.CreateEndpoint(ctx, "bob", EndpointInput{
		URL:    "https://example.com/hook",
		Events: []string{events.EventTypeAlertTriggered},
	})
	require.NoError(t, err)

	rule := testRule("alice", disabled.ID, foreign.ID, "no-such-endpoint")
	require.NoError(t, st.CreateAlertRule(ctx, rule))

	firing := &models.AlertFiring{
		RuleID:      rule.ID,
		UserID:      "alice",
		Metric:      "error_rate",
		MetricValue: 0.9,
		TriggeredAt: time.Now().UTC(),
	}
	require.NoError(t, dispatcher.NotifyAlert(ctx, rule, firing))

	for _, id := range []string{disabled.ID, foreign.ID} {
		ds, err := st.ListDeliveriesForEndpoint(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, ds, "endpoint %s must not receive alert deliveries", id)
	}
}

func TestNotifyAlertWithoutTargetsIsNoop(t *testing.T) {
	dispatcher, _, st, _ := newTestDispatcher(t, false)
	ctx := context.Background()

	rule := testRule("alice")
	require.NoError(t, st.CreateAlertRule(ctx, rule))

	firing := &models.AlertFiring{RuleID: rule.ID, UserID: "alice", Metric: "error_rate", TriggeredAt: time.Now().UTC()}
	require.NoError(t, dispatcher.NotifyAlert(ctx, rule, firing))
}
