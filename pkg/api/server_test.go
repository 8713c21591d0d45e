package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/agent"
	"github.com/gpilot-io/gpilot/pkg/alerts"
	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/metrics"
	"github.com/gpilot-io/gpilot/pkg/mission"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/schedule"
	"github.com/gpilot-io/gpilot/pkg/store"
	"github.com/gpilot-io/gpilot/pkg/webhook"
	testdb "github.com/gpilot-io/gpilot/test/database"
)

// reportPayload is the job payload bound to the test queue.
type reportPayload struct {
	Source string `json:"source"`
}

// newTestServer wires the full service stack against an in-memory
// database. Workers are not started, so enqueued work stays in its
// initial state and handlers can be asserted against persisted rows.
func newTestServer(t *testing.T) (*Server, *store.Store, *agent.Registry) {
	t.Helper()

	client := testdb.NewTestClient(t)
	st := store.New(client, slog.Default())

	qcfg := config.DefaultQueueConfig()
	qcfg.PollInterval = 10 * time.Millisecond
	qcfg.PollIntervalJitter = 2 * time.Millisecond

	mgr := queue.NewManager("test-proc", st, qcfg, nil, queue.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, mgr.Register("reports", "generate", reportPayload{},
		func(ctx context.Context, job *models.Job, payload any, sink queue.LogSink) error {
			return nil
		}))

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register("enricher", agent.HandlerFunc(
		func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			return &agent.Result{Output: models.JSON(`{"ok":true}`)}, nil
		})))
	executor := agent.NewExecutor(registry, st, nil, slog.Default())

	missionSvc := mission.NewService(st, mgr, executor, nil, config.DefaultMissionConfig(), slog.Default())
	require.NoError(t, missionSvc.Register())

	alertSvc := alerts.NewService(st, slog.Default())
	webhookSvc := webhook.NewService(st, config.DefaultWebhookConfig(), slog.Default())
	scheduleSvc := schedule.NewService(st, missionSvc, nil, slog.Default())
	collector := metrics.NewCollector(st, mgr, registry, time.Hour, slog.Default())
	hub := events.NewHub(time.Second)

	cfg := &config.ServerConfig{Addr: ":0", ShutdownTimeout: time.Second}
	srv := NewServer(cfg, client, st, mgr, missionSvc, alertSvc, webhookSvc, scheduleSvc, collector, hub)
	return srv, st, registry
}

// doRequest performs a routed request as user "alice".
func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-User", "alice")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	assert.NotEmpty(t, resp.Version)
}

func TestSystemInfoEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/system/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemInfoResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, runtime.Version(), resp.GoVersion)
	assert.GreaterOrEqual(t, resp.NumCPU, 1)
	assert.Contains(t, resp.Queues, "reports")
	assert.Contains(t, resp.Queues, mission.QueueName)
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"),
		"unexpected content type %q", rec.Header().Get("Content-Type"))
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWSUnavailableWithoutHub(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	s := &Server{}
	err := s.wsHandler(c)

	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
}
