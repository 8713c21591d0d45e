package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// metricsOverviewHandler handles GET /api/v1/metrics/overview.
// Assembles the current SystemMetrics view for the requesting user,
// including the derived health score and status.
func (s *Server) metricsOverviewHandler(c *echo.Context) error {
	m, err := s.collector.Collect(c.Request().Context(), extractUser(c))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, m)
}

// metricsTimeseriesHandler handles GET /api/v1/metrics/timeseries.
// Query parameters: metric, range (1h|6h|24h|7d|30d) and resolution
// (1m|5m|15m|1h|1d). The collector validates the vocabulary.
func (s *Server) metricsTimeseriesHandler(c *echo.Context) error {
	series, err := s.collector.Timeseries(
		c.Request().Context(),
		extractUser(c),
		c.QueryParam("metric"),
		c.QueryParam("range"),
		c.QueryParam("resolution"),
	)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, series)
}
