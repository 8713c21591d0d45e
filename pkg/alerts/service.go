package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// ValidationError reports a rejected rule.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alert rule: %s: %s", e.Field, e.Msg)
}

// RuleInput carries the user-editable fields of a rule.
type RuleInput struct {
	Name          string                `json:"name"`
	Metric        string                `json:"metric"`
	Condition     models.AlertCondition `json:"condition"`
	Threshold     float64               `json:"threshold"`
	WindowMinutes int                   `json:"window_minutes"`
	Channels      []string              `json:"channels"`
	WebhookIDs    []string              `json:"webhook_ids"`
	IsActive      *bool                 `json:"is_active"`
}

func (in *RuleInput) validate() error {
	if in.Name == "" {
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if !models.KnownMetric(in.Metric) {
		return &ValidationError{Field: "metric", Msg: fmt.Sprintf("unknown metric %q", in.Metric)}
	}
	if !in.Condition.Valid() {
		return &ValidationError{Field: "condition", Msg: fmt.Sprintf("unknown condition %q", in.Condition)}
	}
	if math.IsNaN(in.Threshold) || math.IsInf(in.Threshold, 0) {
		return &ValidationError{Field: "threshold", Msg: "must be a finite number"}
	}
	if in.WindowMinutes < 0 {
		return &ValidationError{Field: "window_minutes", Msg: "must not be negative"}
	}
	for _, ch := range in.Channels {
		switch ch {
		case models.ChannelWebhook, models.ChannelSlack, models.ChannelEmail, models.ChannelInApp:
		default:
			return &ValidationError{Field: "channels", Msg: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	return nil
}

// Service owns alert rule CRUD and firing history reads. The evaluator
// owns the firing lifecycle; this service never touches is_firing.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService wires the rule management service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "alerts"),
	}
}

// CreateRule validates and persists a new rule for the user.
func (s *Service) CreateRule(ctx context.Context, userID string, in RuleInput) (*models.AlertRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	rule := &models.AlertRule{
		UserID:        userID,
		Name:          in.Name,
		Metric:        in.Metric,
		Condition:     in.Condition,
		Threshold:     in.Threshold,
		WindowMinutes: in.WindowMinutes,
		Channels:      in.Channels,
		WebhookIDs:    in.WebhookIDs,
		IsActive:      true,
	}
	if rule.WindowMinutes == 0 {
		rule.WindowMinutes = 5
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if err := s.store.CreateAlertRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Alert rule created", "rule_id", rule.ID, "name", rule.Name, "metric", rule.Metric, "user_id", userID)
	return rule, nil
}

// GetRule loads one rule scoped to its owner.
func (s *Service) GetRule(ctx context.Context, userID, id string) (*models.AlertRule, error) {
	rule, err := s.store.GetAlertRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.UserID != userID {
		return nil, fmt.Errorf("alert rule %s: %w", id, store.ErrNotFound)
	}
	return rule, nil
}

// ListRules returns the user's rules.
func (s *Service) ListRules(ctx context.Context, userID string) ([]models.AlertRule, error) {
	return s.store.ListAlertRules(ctx, userID, false)
}

// UpdateRule validates and saves the user-editable fields of a rule.
func (s *Service) UpdateRule(ctx context.Context, userID, id string, in RuleInput) (*models.AlertRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	rule, err := s.GetRule(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rule.Name = in.Name
	rule.Metric = in.Metric
	rule.Condition = in.Condition
	rule.Threshold = in.Threshold
	rule.Channels = in.Channels
	rule.WebhookIDs = in.WebhookIDs
	if in.WindowMinutes > 0 {
		rule.WindowMinutes = in.WindowMinutes
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if err := s.store.UpdateAlertRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and closes any open episode it has.
func (s *Service) DeleteRule(ctx context.Context, userID, id string) error {
	if _, err := s.GetRule(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteAlertRule(ctx, id, time.Now().UTC())
}

// ListFirings returns the user's episode history, newest first.
func (s *Service) ListFirings(ctx context.Context, userID string, limit int) ([]models.AlertFiring, error) {
	return s.store.ListAlertFirings(ctx, userID, limit)
}
