package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/queue"
)

// enqueueJobHandler handles POST /api/v1/jobs.
// Persists a job in "waiting" status and returns immediately with job_id.
func (s *Server) enqueueJobHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req EnqueueJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// 2. Validate required fields
	if req.Queue == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "queue field is required")
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type field is required")
	}

	// 3. Enqueue through the manager; payload decoding, idempotency dedupe
	// and option validation happen there.
	job, err := s.queueManager.Enqueue(c.Request().Context(), req.Queue, req.Type, req.Payload, queue.EnqueueOptions{
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		BackoffBaseMS:  req.BackoffBaseMS,
		DelayMS:        req.DelayMS,
		TimeoutMS:      req.TimeoutMS,
		UserID:         extractUser(c),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return mapServiceError(err)
	}

	// 4. Return response
	return c.JSON(http.StatusAccepted, &EnqueueResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	job, err := s.store.GetJob(c.Request().Context(), jobID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, job)
}

// queueMetricsHandler handles GET /api/v1/queues/:queue/metrics.
func (s *Server) queueMetricsHandler(c *echo.Context) error {
	queueName := c.Param("queue")
	if queueName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "queue name is required")
	}

	counts, err := s.queueManager.Counts(c.Request().Context(), queueName)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, counts)
}
