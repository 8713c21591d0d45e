package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "user:abc-123", UserChannel("abc-123"))
	assert.Equal(t, "system", SystemChannel)
}

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(EventTypeMissionCompleted, "user-1", MissionStatusPayload{
		MissionID: "m1",
		Status:    "COMPLETED",
		TotalCost: 3,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventTypeMissionCompleted, event.Type)
	assert.Equal(t, "user-1", event.UserID)
	assert.NotEmpty(t, event.Timestamp)

	var data MissionStatusPayload
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "m1", data.MissionID)
	assert.Equal(t, int64(3), data.TotalCost)
}

func TestNewEventDistinctIDs(t *testing.T) {
	a, err := NewEvent(EventTypeJobCompleted, "u", JobEventPayload{JobID: "j1"})
	require.NoError(t, err)
	b, err := NewEvent(EventTypeJobCompleted, "u", JobEventPayload{JobID: "j1"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEventWireShape(t *testing.T) {
	event, err := NewEvent(EventTypeAlertTriggered, "user-9", AlertEventPayload{
		RuleID:      "r1",
		Metric:      "queue_depth",
		MetricValue: 42,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, EventTypeAlertTriggered, m["type"])
	assert.Equal(t, "user-9", m["user_id"])
	assert.Contains(t, m, "event_id")
	assert.Contains(t, m, "timestamp")
	assert.Contains(t, m, "data")
}
