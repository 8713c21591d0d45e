package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/alerts"
	"github.com/gpilot-io/gpilot/pkg/models"
)

// AlertRulesResponse is returned by GET /api/v1/alerts/rules.
type AlertRulesResponse struct {
	Rules []models.AlertRule `json:"rules"`
}

// AlertFiringsResponse is returned by GET /api/v1/alerts/firings.
type AlertFiringsResponse struct {
	Firings []models.AlertFiring `json:"firings"`
}

// createAlertRuleHandler handles POST /api/v1/alerts/rules.
func (s *Server) createAlertRuleHandler(c *echo.Context) error {
	var in alerts.RuleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, err := s.alertService.CreateRule(c.Request().Context(), extractUser(c), in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, rule)
}

// listAlertRulesHandler handles GET /api/v1/alerts/rules.
func (s *Server) listAlertRulesHandler(c *echo.Context) error {
	rules, err := s.alertService.ListRules(c.Request().Context(), extractUser(c))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &AlertRulesResponse{Rules: rules})
}

// getAlertRuleHandler handles GET /api/v1/alerts/rules/:id.
func (s *Server) getAlertRuleHandler(c *echo.Context) error {
	ruleID := c.Param("id")
	if ruleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule id is required")
	}

	rule, err := s.alertService.GetRule(c.Request().Context(), extractUser(c), ruleID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, rule)
}

// updateAlertRuleHandler handles PUT /api/v1/alerts/rules/:id.
func (s *Server) updateAlertRuleHandler(c *echo.Context) error {
	ruleID := c.Param("id")
	if ruleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule id is required")
	}

	var in alerts.RuleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rule, err := s.alertService.UpdateRule(c.Request().Context(), extractUser(c), ruleID, in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, rule)
}

// deleteAlertRuleHandler handles DELETE /api/v1/alerts/rules/:id.
func (s *Server) deleteAlertRuleHandler(c *echo.Context) error {
	ruleID := c.Param("id")
	if ruleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule id is required")
	}

	if err := s.alertService.DeleteRule(c.Request().Context(), extractUser(c), ruleID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// listAlertFiringsHandler handles GET /api/v1/alerts/firings.
func (s *Server) listAlertFiringsHandler(c *echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	firings, err := s.alertService.ListFirings(c.Request().Context(), extractUser(c), limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &AlertFiringsResponse{Firings: firings})
}
