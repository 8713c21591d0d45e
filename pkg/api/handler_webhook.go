package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/webhook"
)

// WebhookEndpointsResponse is returned by GET /api/v1/webhooks/endpoints.
type WebhookEndpointsResponse struct {
	Endpoints []models.WebhookEndpoint `json:"endpoints"`
}

// WebhookDeliveriesResponse is returned by GET /api/v1/webhooks/deliveries.
type WebhookDeliveriesResponse struct {
	Deliveries []models.WebhookDelivery `json:"deliveries"`
}

// createWebhookEndpointHandler handles POST /api/v1/webhooks/endpoints.
// The response carries the plaintext signing secret exactly once.
func (s *Server) createWebhookEndpointHandler(c *echo.Context) error {
	var in webhook.EndpointInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	endpoint, secret, err := s.webhookService.CreateEndpoint(c.Request().Context(), extractUser(c), in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, &WebhookEndpointResponse{
		Endpoint: endpoint,
		Secret:   secret,
	})
}

// listWebhookEndpointsHandler handles GET /api/v1/webhooks/endpoints.
func (s *Server) listWebhookEndpointsHandler(c *echo.Context) error {
	endpoints, err := s.webhookService.ListEndpoints(c.Request().Context(), extractUser(c))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &WebhookEndpointsResponse{Endpoints: endpoints})
}

// getWebhookEndpointHandler handles GET /api/v1/webhooks/endpoints/:id.
func (s *Server) getWebhookEndpointHandler(c *echo.Context) error {
	endpointID := c.Param("id")
	if endpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint id is required")
	}

	endpoint, err := s.webhookService.GetEndpoint(c.Request().Context(), extractUser(c), endpointID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, endpoint)
}

// updateWebhookEndpointHandler handles PUT /api/v1/webhooks/endpoints/:id.
func (s *Server) updateWebhookEndpointHandler(c *echo.Context) error {
	endpointID := c.Param("id")
	if endpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint id is required")
	}

	var in webhook.EndpointInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	endpoint, err := s.webhookService.UpdateEndpoint(c.Request().Context(), extractUser(c), endpointID, in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, endpoint)
}

// deleteWebhookEndpointHandler handles DELETE /api/v1/webhooks/endpoints/:id.
func (s *Server) deleteWebhookEndpointHandler(c *echo.Context) error {
	endpointID := c.Param("id")
	if endpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint id is required")
	}

	if err := s.webhookService.DeleteEndpoint(c.Request().Context(), extractUser(c), endpointID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// rotateWebhookSecretHandler handles POST /api/v1/webhooks/endpoints/:id/rotate.
// Rotation is throttled per user; a throttled request returns 429.
func (s *Server) rotateWebhookSecretHandler(c *echo.Context) error {
	endpointID := c.Param("id")
	if endpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint id is required")
	}

	secret, err := s.webhookService.RotateSecret(c.Request().Context(), extractUser(c), endpointID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &RotateSecretResponse{Secret: secret})
}

// listWebhookDeliveriesHandler handles GET /api/v1/webhooks/deliveries.
func (s *Server) listWebhookDeliveriesHandler(c *echo.Context) error {
	endpointID := c.QueryParam("endpoint_id")
	if endpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint_id query parameter is required")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	deliveries, err := s.webhookService.Deliveries(c.Request().Context(), extractUser(c), endpointID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &WebhookDeliveriesResponse{Deliveries: deliveries})
}
