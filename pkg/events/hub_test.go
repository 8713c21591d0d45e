package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() { server.Close() })
	return hub, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHubConnectionEstablished(t *testing.T) {
	_, server := setupTestHub(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestHubSubscribeAndBroadcast(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "user:u1"})
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", msg["type"])
	assert.Equal(t, "user:u1", msg["channel"])

	hub.Broadcast("user:u1", []byte(`{"type":"job.completed","job_id":"j1"}`))

	msg = readJSON(t, conn)
	assert.Equal(t, "job.completed", msg["type"])
	assert.Equal(t, "j1", msg["job_id"])
}

func TestHubBroadcastSkipsOtherChannels(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "user:u1"})
	readJSON(t, conn) // subscription.confirmed

	// Event for a different user must not arrive; the ping/pong probe
	// after it would otherwise read the stray event.
	hub.Broadcast("user:other", []byte(`{"type":"job.completed"}`))
	sendJSON(t, conn, ClientMessage{Action: "ping"})

	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHubUnsubscribe(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: SystemChannel})
	readJSON(t, conn)
	require.Eventually(t, func() bool {
		return hub.subscriberCount(SystemChannel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sendJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: SystemChannel})
	require.Eventually(t, func() bool {
		return hub.subscriberCount(SystemChannel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubSubscribeRequiresChannel(t *testing.T) {
	_, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendJSON(t, conn, ClientMessage{Action: "subscribe"})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestHubDisconnectCleansUp(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "user:u1"})
	readJSON(t, conn)
	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return hub.ActiveConnections() == 0 && hub.subscriberCount("user:u1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublisherDirectHubDelivery(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "user:u1"})
	readJSON(t, conn)

	pub := NewPublisher(hub, nil)
	err := pub.PublishJobCompleted(context.Background(), "u1", JobEventPayload{
		JobID: "j1",
		Queue: "default",
	})
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeJobCompleted, msg["type"])
	assert.Equal(t, "u1", msg["user_id"])

	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "j1", data["job_id"])
}

func TestPublisherMissionStatusFansOutToSystem(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	sendJSON(t, conn, ClientMessage{Action: "subscribe", Channel: SystemChannel})
	readJSON(t, conn)

	pub := NewPublisher(hub, nil)
	err := pub.PublishMissionStatus(context.Background(), EventTypeMissionCompleted, "u1", MissionStatusPayload{
		MissionID: "m1",
		Status:    "COMPLETED",
	})
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeMissionCompleted, msg["type"])
}
