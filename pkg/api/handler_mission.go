package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// MissionListResponse is returned by GET /api/v1/missions.
type MissionListResponse struct {
	Missions []models.Mission `json:"missions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// submitMissionHandler handles POST /api/v1/missions. The body is the
// mission plan itself. Plan validation (cycles, unknown agents, parallelism
// caps) happens in the mission service before anything is persisted.
func (s *Server) submitMissionHandler(c *echo.Context) error {
	var plan models.Plan
	if err := c.Bind(&plan); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	m, err := s.missionService.Submit(c.Request().Context(), extractUser(c), plan)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &MissionResponse{
		MissionID: m.ID,
		Status:    string(m.Status),
	})
}

// getMissionHandler handles GET /api/v1/missions/:id. The returned mission
// carries its full audit trail.
func (s *Server) getMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	m, err := s.missionService.Get(c.Request().Context(), extractUser(c), missionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, m)
}

// listMissionsHandler handles GET /api/v1/missions.
func (s *Server) listMissionsHandler(c *echo.Context) error {
	limit := 25
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	missions, total, err := s.missionService.List(c.Request().Context(), extractUser(c), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &MissionListResponse{
		Missions: missions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}
