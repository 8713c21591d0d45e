package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated probes.
// Only the substrate's own components (database, worker pools) are
// checked; external webhook receivers and notification channels are not,
// so a broken downstream cannot get the process restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := database.Health(reqCtx, s.dbClient.SQLDB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.queueManager != nil {
		pools := s.queueManager.Health()
		stopped := 0
		for _, p := range pools {
			if !p.Running {
				stopped++
			}
		}
		if stopped > 0 {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["workers"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: fmt.Sprintf("%d of %d worker pools stopped", stopped, len(pools)),
			}
		} else {
			checks["workers"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
