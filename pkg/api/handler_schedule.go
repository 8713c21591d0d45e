package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/schedule"
)

// SchedulesResponse is returned by GET /api/v1/schedules.
type SchedulesResponse struct {
	Schedules []models.Schedule `json:"schedules"`
}

// createScheduleHandler handles POST /api/v1/schedules.
func (s *Server) createScheduleHandler(c *echo.Context) error {
	var in schedule.ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sched, err := s.scheduleService.Create(c.Request().Context(), extractUser(c), in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, sched)
}

// listSchedulesHandler handles GET /api/v1/schedules.
func (s *Server) listSchedulesHandler(c *echo.Context) error {
	schedules, err := s.scheduleService.List(c.Request().Context(), extractUser(c))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &SchedulesResponse{Schedules: schedules})
}

// getScheduleHandler handles GET /api/v1/schedules/:id.
func (s *Server) getScheduleHandler(c *echo.Context) error {
	scheduleID := c.Param("id")
	if scheduleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule id is required")
	}

	sched, err := s.scheduleService.Get(c.Request().Context(), extractUser(c), scheduleID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, sched)
}

// updateScheduleHandler handles PUT /api/v1/schedules/:id.
func (s *Server) updateScheduleHandler(c *echo.Context) error {
	scheduleID := c.Param("id")
	if scheduleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule id is required")
	}

	var in schedule.ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sched, err := s.scheduleService.Update(c.Request().Context(), extractUser(c), scheduleID, in)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, sched)
}

// deleteScheduleHandler handles DELETE /api/v1/schedules/:id.
func (s *Server) deleteScheduleHandler(c *echo.Context) error {
	scheduleID := c.Param("id")
	if scheduleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule id is required")
	}

	if err := s.scheduleService.Delete(c.Request().Context(), extractUser(c), scheduleID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// runScheduleHandler handles POST /api/v1/schedules/:id/run. Submits the
// schedule's plan as a mission immediately, outside its timer.
func (s *Server) runScheduleHandler(c *echo.Context) error {
	scheduleID := c.Param("id")
	if scheduleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule id is required")
	}

	m, err := s.scheduleService.RunNow(c.Request().Context(), extractUser(c), scheduleID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &MissionResponse{
		MissionID: m.ID,
		Status:    string(m.Status),
	})
}
