package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// DeadLettersResponse is returned by GET /api/v1/deadletters.
type DeadLettersResponse struct {
	Entries []models.DeadLetterEntry `json:"entries"`
}

// listDeadLettersHandler handles GET /api/v1/deadletters. Unresolved
// entries only by default; pass ?include_resolved=true for the full
// history within the retention window.
func (s *Server) listDeadLettersHandler(c *echo.Context) error {
	includeResolved := false
	if v := c.QueryParam("include_resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_resolved: must be a boolean")
		}
		includeResolved = b
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.store.ListDeadLetters(c.Request().Context(), extractUser(c), !includeResolved, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &DeadLettersResponse{Entries: entries})
}

// replayDeadLetterHandler handles POST /api/v1/deadletters/:id/replay.
// Re-enqueues the failed job with a fresh retry budget and resolves the
// entry; returns the replacement job.
func (s *Server) replayDeadLetterHandler(c *echo.Context) error {
	entryID := c.Param("id")
	if entryID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dead letter id is required")
	}

	job, err := s.queueManager.ReplayDeadLetter(c.Request().Context(), entryID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &EnqueueResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// purgeDeadLetterHandler handles DELETE /api/v1/deadletters/:id.
func (s *Server) purgeDeadLetterHandler(c *echo.Context) error {
	entryID := c.Param("id")
	if entryID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dead letter id is required")
	}

	if err := s.queueManager.PurgeDeadLetter(c.Request().Context(), entryID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
