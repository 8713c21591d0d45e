// Package slack delivers alert notifications to a Slack channel through the
// slack-go SDK. Firings post a standalone message carrying a fingerprint in
// the fallback text; resolutions search recent channel history for that
// fingerprint and thread onto the firing message.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

const (
	firingTimeout     = 5 * time.Second
	resolutionTimeout = 10 * time.Second
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service is the slack notification channel for the alert evaluator.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// Notify delivers one alert transition. A firing (ResolvedAt nil) posts a new
// channel message; a resolution threads a follow-up onto the firing message
// when it can still be found. Delivery errors are returned; the evaluator
// treats notification failure as non-fatal.
func (s *Service) Notify(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	if s == nil {
		return nil
	}
	if firing.ResolvedAt == nil {
		return s.notifyFiring(ctx, rule, firing)
	}
	return s.notifyResolved(ctx, rule, firing)
}

func (s *Service) notifyFiring(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	text, blocks := BuildFiringMessage(rule, firing, s.dashboardURL)
	if err := s.client.PostMessage(ctx, text, blocks, "", firingTimeout); err != nil {
		return fmt.Errorf("failed to send firing notification: %w", err)
	}
	return nil
}

func (s *Service) notifyResolved(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	threadTS, err := s.client.FindMessageByFingerprint(ctx, Fingerprint(firing.ID))
	if err != nil {
		// Threading is best effort; the notice still goes out standalone.
		s.logger.Warn("Failed to find Slack thread for firing",
			"rule_id", rule.ID,
			"firing_id", firing.ID,
			"error", err)
		threadTS = ""
	}

	text, blocks := BuildResolvedMessage(rule, firing)
	if err := s.client.PostMessage(ctx, text, blocks, threadTS, resolutionTimeout); err != nil {
		return fmt.Errorf("failed to send resolution notification: %w", err)
	}
	return nil
}
