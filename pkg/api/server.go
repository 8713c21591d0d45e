// Package api exposes the operations substrate over HTTP: job enqueue and
// inspection, mission submission, metrics queries, alert rule and webhook
// endpoint management, dead-letter recovery, schedules, and the WebSocket
// event stream. Handlers bind and validate requests, delegate to the
// service layer, and map service errors onto HTTP status codes.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpilot-io/gpilot/pkg/alerts"
	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/metrics"
	"github.com/gpilot-io/gpilot/pkg/mission"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/schedule"
	"github.com/gpilot-io/gpilot/pkg/store"
	"github.com/gpilot-io/gpilot/pkg/webhook"
)

// Server is the HTTP front door. It owns an echo instance, wires routes
// to the service layer, and serves until Shutdown.
type Server struct {
	echo *echo.Echo
	cfg  *config.ServerConfig

	dbClient        *database.Client
	store           *store.Store
	queueManager    *queue.Manager
	missionService  *mission.Service
	alertService    *alerts.Service
	webhookService  *webhook.Service
	scheduleService *schedule.Service
	collector       *metrics.Collector
	hub             *events.Hub

	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// NewServer builds the HTTP server and registers all routes. The hub may
// be nil, in which case the WebSocket endpoint reports unavailable.
func NewServer(
	cfg *config.ServerConfig,
	dbClient *database.Client,
	st *store.Store,
	manager *queue.Manager,
	missions *mission.Service,
	alertSvc *alerts.Service,
	webhooks *webhook.Service,
	schedules *schedule.Service,
	collector *metrics.Collector,
	hub *events.Hub,
) *Server {
	s := &Server{
		echo:            echo.New(),
		cfg:             cfg,
		dbClient:        dbClient,
		store:           st,
		queueManager:    manager,
		missionService:  missions,
		alertService:    alertSvc,
		webhookService:  webhooks,
		scheduleService: schedules,
		collector:       collector,
		hub:             hub,
		gatherer:        prometheus.DefaultGatherer,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetMetricsGatherer overrides the Prometheus gatherer behind GET /metrics.
// Call before Start.
func (s *Server) SetMetricsGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())

	// Unauthenticated operational surface at the root.
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.prometheusHandler)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/jobs", s.enqueueJobHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.GET("/queues/:queue/metrics", s.queueMetricsHandler)

	v1.POST("/missions", s.submitMissionHandler)
	v1.GET("/missions", s.listMissionsHandler)
	v1.GET("/missions/:id", s.getMissionHandler)

	v1.GET("/metrics/overview", s.metricsOverviewHandler)
	v1.GET("/metrics/timeseries", s.metricsTimeseriesHandler)

	v1.POST("/alerts/rules", s.createAlertRuleHandler)
	v1.GET("/alerts/rules", s.listAlertRulesHandler)
	v1.GET("/alerts/rules/:id", s.getAlertRuleHandler)
	v1.PUT("/alerts/rules/:id", s.updateAlertRuleHandler)
	v1.DELETE("/alerts/rules/:id", s.deleteAlertRuleHandler)
	v1.GET("/alerts/firings", s.listAlertFiringsHandler)

	v1.POST("/webhooks/endpoints", s.createWebhookEndpointHandler)
	v1.GET("/webhooks/endpoints", s.listWebhookEndpointsHandler)
	v1.GET("/webhooks/endpoints/:id", s.getWebhookEndpointHandler)
	v1.PUT("/webhooks/endpoints/:id", s.updateWebhookEndpointHandler)
	v1.DELETE("/webhooks/endpoints/:id", s.deleteWebhookEndpointHandler)
	v1.POST("/webhooks/endpoints/:id/rotate", s.rotateWebhookSecretHandler)
	v1.GET("/webhooks/deliveries", s.listWebhookDeliveriesHandler)

	v1.GET("/deadletters", s.listDeadLettersHandler)
	v1.POST("/deadletters/:id/replay", s.replayDeadLetterHandler)
	v1.DELETE("/deadletters/:id", s.purgeDeadLetterHandler)

	v1.POST("/schedules", s.createScheduleHandler)
	v1.GET("/schedules", s.listSchedulesHandler)
	v1.GET("/schedules/:id", s.getScheduleHandler)
	v1.PUT("/schedules/:id", s.updateScheduleHandler)
	v1.DELETE("/schedules/:id", s.deleteScheduleHandler)
	v1.POST("/schedules/:id/run", s.runScheduleHandler)

	v1.GET("/system/info", s.systemInfoHandler)
	v1.GET("/ws", s.wsHandler)
}

// prometheusHandler serves the Prometheus exposition format at GET /metrics.
func (s *Server) prometheusHandler(c *echo.Context) error {
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).
		ServeHTTP(c.Response(), c.Request())
	return nil
}

// Start begins serving on the configured address. Blocks until the
// listener stops; returns http.ErrServerClosed after a graceful Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
