package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/gpilot-io/gpilot/pkg/alerts"
	"github.com/gpilot-io/gpilot/pkg/metrics"
	"github.com/gpilot-io/gpilot/pkg/mission"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/schedule"
	"github.com/gpilot-io/gpilot/pkg/store"
	"github.com/gpilot-io/gpilot/pkg/webhook"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	if msg, ok := validationMessage(err); ok {
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, webhook.ErrRotationThrottled) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "secret was rotated recently, try again later")
	}
	if store.IsConsistencyError(err) {
		slog.Error("Consistency violation surfaced to API", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// validationMessage reports whether err is any service's validation error
// and extracts its message. Each package owns its own ValidationError type
// so the checks are spelled out per package.
func validationMessage(err error) (string, bool) {
	var (
		storeErr    *store.ValidationError
		queueErr    *queue.ValidationError
		missionErr  *mission.ValidationError
		metricsErr  *metrics.ValidationError
		alertsErr   *alerts.ValidationError
		webhookErr  *webhook.ValidationError
		scheduleErr *schedule.ValidationError
	)
	switch {
	case errors.As(err, &storeErr):
		return storeErr.Error(), true
	case errors.As(err, &queueErr):
		return queueErr.Error(), true
	case errors.As(err, &missionErr):
		return missionErr.Error(), true
	case errors.As(err, &metricsErr):
		return metricsErr.Error(), true
	case errors.As(err, &alertsErr):
		return alertsErr.Error(), true
	case errors.As(err, &webhookErr):
		return webhookErr.Error(), true
	case errors.As(err, &scheduleErr):
		return scheduleErr.Error(), true
	}
	return "", false
}
