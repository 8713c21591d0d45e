package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// ErrRotationThrottled is returned when a user rotates endpoint secrets
// faster than the configured interval allows.
var ErrRotationThrottled = errors.New("secret rotation rate limit exceeded")

// ValidationError reports a rejected endpoint.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid webhook endpoint: %s: %s", e.Field, e.Msg)
}

// EndpointInput carries the user-editable fields of an endpoint.
type EndpointInput struct {
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

func (in *EndpointInput) validate() error {
	u, err := url.Parse(in.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "url", Msg: "must be an absolute http(s) URL"}
	}
	if len(in.Events) == 0 {
		return &ValidationError{Field: "events", Msg: "must subscribe to at least one event type"}
	}
	for _, ev := range in.Events {
		if !events.KnownType(ev) {
			return &ValidationError{Field: "events", Msg: fmt.Sprintf("unknown event type %q", ev)}
		}
	}
	return nil
}

// Service owns endpoint CRUD. Secrets are generated server-side, stored
// encrypted, and surfaced exactly once: on create and on rotation.
type Service struct {
	store  *store.Store
	cfg    *config.WebhookConfig
	logger *slog.Logger

	mu       sync.Mutex
	rotation map[string]*rate.Limiter // per user
}

// NewService wires endpoint management.
func NewService(st *store.Store, cfg *config.WebhookConfig, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		cfg:      cfg,
		logger:   logger.With("component", "webhooks"),
		rotation: make(map[string]*rate.Limiter),
	}
}

// CreateEndpoint validates and persists a new endpoint. The returned
// secret is shown to the caller this one time only.
func (s *Service) CreateEndpoint(ctx context.Context, userID string, in EndpointInput) (*models.WebhookEndpoint, string, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}

	secret, err := newSecret()
	if err != nil {
		return nil, "", err
	}

	endpoint := &models.WebhookEndpoint{
		UserID:   userID,
		URL:      in.URL,
		Secret:   database.EncryptedString(secret),
		Events:   in.Events,
		IsActive: true,
	}
	if in.IsActive != nil {
		endpoint.IsActive = *in.IsActive
	}
	if err := s.store.CreateWebhookEndpoint(ctx, endpoint); err != nil {
		return nil, "", err
	}

	s.logger.Info("Webhook endpoint created", "endpoint_id", endpoint.ID, "user_id", userID, "events", len(in.Events))
	return endpoint, secret, nil
}

// GetEndpoint loads one endpoint scoped to its owner.
func (s *Service) GetEndpoint(ctx context.Context, userID, id string) (*models.WebhookEndpoint, error) {
	endpoint, err := s.store.GetWebhookEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if endpoint.UserID != userID {
		return nil, fmt.Errorf("webhook endpoint %s: %w", id, store.ErrNotFound)
	}
	return endpoint, nil
}

// ListEndpoints returns the user's endpoints.
func (s *Service) ListEndpoints(ctx context.Context, userID string) ([]models.WebhookEndpoint, error) {
	return s.store.ListWebhookEndpoints(ctx, userID)
}

// UpdateEndpoint validates and saves URL, subscriptions and active flag.
func (s *Service) UpdateEndpoint(ctx context.Context, userID, id string, in EndpointInput) (*models.WebhookEndpoint, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	endpoint, err := s.GetEndpoint(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	endpoint.URL = in.URL
	endpoint.Events = in.Events
	if in.IsActive != nil {
		endpoint.IsActive = *in.IsActive
	}
	if err := s.store.UpdateWebhookEndpoint(ctx, endpoint); err != nil {
		return nil, err
	}
	return endpoint, nil
}

// DeleteEndpoint removes an endpoint. In-flight deliveries notice the
// missing row and abandon themselves.
func (s *Service) DeleteEndpoint(ctx context.Context, userID, id string) error {
	if _, err := s.GetEndpoint(ctx, userID, id); err != nil {
		return err
	}

	if err := s.store.DeleteWebhookEndpoint(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Webhook endpoint deleted", "endpoint_id", id, "user_id", userID)
	return nil
}

// RotateSecret replaces the endpoint's signing secret and returns the new
// value this one time. Rotation is throttled per user.
func (s *Service) RotateSecret(ctx context.Context, userID, id string) (string, error) {
	endpoint, err := s.GetEndpoint(ctx, userID, id)
	if err != nil {
		return "", err
	}

	if !s.rotationLimiter(userID).Allow() {
		return "", ErrRotationThrottled
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := s.store.RotateEndpointSecret(ctx, endpoint.ID, secret); err != nil {
		return "", err
	}

	s.logger.Info("Webhook secret rotated", "endpoint_id", endpoint.ID, "user_id", userID)
	return secret, nil
}

// Deliveries returns delivery history for one of the user's endpoints.
func (s *Service) Deliveries(ctx context.Context, userID, endpointID string, limit int) ([]models.WebhookDelivery, error) {
	if _, err := s.GetEndpoint(ctx, userID, endpointID); err != nil {
		return nil, err
	}
	return s.store.ListDeliveriesForEndpoint(ctx, endpointID, limit)
}

func (s *Service) rotationLimiter(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.rotation[userID]
	if !ok {
		// One rotation per interval with a burst of one: the first
		// rotation is free, the next waits out the interval.
		limiter = rate.NewLimiter(rate.Every(s.cfg.RotationInterval), 1)
		s.rotation[userID] = limiter
	}
	return limiter
}

// newSecret returns 32 random bytes hex-encoded, the shared-secret format
// receivers paste into their verifier.
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
