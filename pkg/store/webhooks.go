package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/pkg/models"
)

// CreateWebhookEndpoint persists a new endpoint. The secret is encrypted at
// rest by the column type.
func (s *Store) CreateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error {
	if err := s.db(ctx).Create(ep).Error; err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", translateError(err))
	}
	return nil
}

// GetWebhookEndpoint loads one endpoint by id.
func (s *Store) GetWebhookEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	var ep models.WebhookEndpoint
	if err := s.db(ctx).First(&ep, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", translateError(err))
	}
	return &ep, nil
}

// ListWebhookEndpoints returns a user's endpoints.
func (s *Store) ListWebhookEndpoints(ctx context.Context, userID string) ([]models.WebhookEndpoint, error) {
	var eps []models.WebhookEndpoint
	err := s.db(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&eps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	return eps, nil
}

// ListActiveEndpointsForEvent returns a user's active endpoints subscribed to
// eventType. Subscription matching happens Go-side since events is a JSON
// column.
func (s *Store) ListActiveEndpointsForEvent(ctx context.Context, userID, eventType string) ([]models.WebhookEndpoint, error) {
	var eps []models.WebhookEndpoint
	err := s.db(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&eps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active endpoints: %w", err)
	}
	matched := make([]models.WebhookEndpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Subscribed(eventType) {
			matched = append(matched, ep)
		}
	}
	return matched, nil
}

// UpdateWebhookEndpoint saves user-editable endpoint fields. The secret is
// not touched here; use RotateEndpointSecret.
func (s *Store) UpdateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error {
	res := s.db(ctx).Model(&models.WebhookEndpoint{}).
		Where("id = ?", ep.ID).
		Updates(map[string]any{
			"url":       ep.URL,
			"events":    ep.Events,
			"is_active": ep.IsActive,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update webhook endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateEndpointSecret replaces the endpoint's signing secret.
func (s *Store) RotateEndpointSecret(ctx context.Context, id string, secret string) error {
	res := s.db(ctx).Model(&models.WebhookEndpoint{}).
		Where("id = ?", id).
		Update("secret", database.EncryptedString(secret))
	if res.Error != nil {
		return fmt.Errorf("failed to rotate endpoint secret: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWebhookEndpoint removes an endpoint. Past deliveries are kept for
// the retention window.
func (s *Store) DeleteWebhookEndpoint(ctx context.Context, id string) error {
	res := s.db(ctx).Delete(&models.WebhookEndpoint{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete webhook endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWebhookDelivery records a new delivery attempt row.
func (s *Store) CreateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if err := s.db(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", translateError(err))
	}
	return nil
}

// GetWebhookDelivery loads one delivery by id.
func (s *Store) GetWebhookDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	if err := s.db(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get webhook delivery: %w", translateError(err))
	}
	return &d, nil
}

// UpdateWebhookDelivery saves the mutable outcome fields after an attempt.
func (s *Store) UpdateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	err := s.db(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{
			"status":        d.Status,
			"attempts":      d.Attempts,
			"response_code": d.ResponseCode,
			"response_body": d.ResponseBody,
			"error":         d.Error,
			"sent_at":       d.SentAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}

// ListDeliveriesForEndpoint returns delivery history, newest first.
func (s *Store) ListDeliveriesForEndpoint(ctx context.Context, endpointID string, limit int) ([]models.WebhookDelivery, error) {
	q := s.db(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ds []models.WebhookDelivery
	if err := q.Find(&ds).Error; err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return ds, nil
}

// CountDeliveriesByStatus tallies an endpoint's deliveries per status.
func (s *Store) CountDeliveriesByStatus(ctx context.Context, endpointID string) (map[models.DeliveryStatus]int64, error) {
	var rows []struct {
		Status models.DeliveryStatus
		N      int64
	}
	err := s.db(ctx).Model(&models.WebhookDelivery{}).
		Select("status, COUNT(*) AS n").
		Where("endpoint_id = ?", endpointID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	counts := make(map[models.DeliveryStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// DeleteDeliveriesBefore removes delivery rows older than cutoff.
func (s *Store) DeleteDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.WebhookDelivery{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete deliveries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
