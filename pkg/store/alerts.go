package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// CreateAlertRule persists a user-authored rule.
func (s *Store) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	if err := s.db(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", translateError(err))
	}
	return nil
}

// GetAlertRule loads one rule by id.
func (s *Store) GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", translateError(err))
	}
	return &rule, nil
}

// ListAlertRules returns a user's rules. When activeOnly is set, inactive
// rules are filtered out.
func (s *Store) ListAlertRules(ctx context.Context, userID string, activeOnly bool) ([]models.AlertRule, error) {
	q := s.db(ctx).Where("user_id = ?", userID).Order("created_at ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rules []models.AlertRule
	if err := q.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// ListActiveAlertRules returns every active rule across all users, grouped
// by user for the evaluator's per-user metric collection.
func (s *Store) ListActiveAlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := s.db(ctx).
		Where("is_active = ?", true).
		Order("user_id ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active alert rules: %w", err)
	}
	return rules, nil
}

// UpdateAlertRule saves user-editable rule fields.
func (s *Store) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	res := s.db(ctx).Model(&models.AlertRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]any{
			"name":           rule.Name,
			"metric":         rule.Metric,
			"condition":      rule.Condition,
			"threshold":      rule.Threshold,
			"window_minutes": rule.WindowMinutes,
			"channels":       rule.Channels,
			"webhook_ids":    rule.WebhookIDs,
			"is_active":      rule.IsActive,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update alert rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlertRule removes a rule and any open firing it has.
func (s *Store) DeleteAlertRule(ctx context.Context, id string, now time.Time) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AlertFiring{}).
			Where("rule_id = ? AND resolved_at IS NULL", id).
			Update("resolved_at", now).Error; err != nil {
			return fmt.Errorf("failed to close firings: %w", err)
		}
		res := tx.Delete(&models.AlertRule{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete alert rule: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// OpenAlertFiring transitions a rule into firing: sets is_firing and
// last_fired_at on the rule and opens the episode row, transactionally.
func (s *Store) OpenAlertFiring(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AlertRule{}).
			Where("id = ? AND is_firing = ?", rule.ID, false).
			Updates(map[string]any{
				"is_firing":     true,
				"last_fired_at": firing.TriggeredAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark rule firing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already firing; the partial unique index would reject a
			// second open episode anyway.
			return ErrAlreadyExists
		}
		if err := tx.Create(firing).Error; err != nil {
			return fmt.Errorf("failed to open alert firing: %w", translateError(err))
		}
		return nil
	})
}

// ResolveAlertFiring clears is_firing on the rule and stamps resolved_at on
// its open episode, transactionally.
func (s *Store) ResolveAlertFiring(ctx context.Context, ruleID string, now time.Time) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AlertRule{}).
			Where("id = ? AND is_firing = ?", ruleID, true).
			Update("is_firing", false)
		if res.Error != nil {
			return fmt.Errorf("failed to clear rule firing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&models.AlertFiring{}).
			Where("rule_id = ? AND resolved_at IS NULL", ruleID).
			Update("resolved_at", now).Error; err != nil {
			return fmt.Errorf("failed to resolve alert firing: %w", err)
		}
		return nil
	})
}

// GetOpenFiring returns the rule's open episode, ErrNotFound when none.
func (s *Store) GetOpenFiring(ctx context.Context, ruleID string) (*models.AlertFiring, error) {
	var firing models.AlertFiring
	err := s.db(ctx).
		Where("rule_id = ? AND resolved_at IS NULL", ruleID).
		First(&firing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open firing: %w", translateError(err))
	}
	return &firing, nil
}

// ListAlertFirings returns a user's firing history, newest first.
func (s *Store) ListAlertFirings(ctx context.Context, userID string, limit int) ([]models.AlertFiring, error) {
	q := s.db(ctx).Where("user_id = ?", userID).Order("triggered_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var firings []models.AlertFiring
	if err := q.Find(&firings).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert firings: %w", err)
	}
	return firings, nil
}

// CountFiringsSince tallies a user's episodes triggered and resolved at or
// after since.
func (s *Store) CountFiringsSince(ctx context.Context, userID string, since time.Time) (fired, resolved int64, err error) {
	err = s.db(ctx).Model(&models.AlertFiring{}).
		Where("user_id = ? AND triggered_at >= ?", userID, since).
		Count(&fired).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count firings: %w", err)
	}
	err = s.db(ctx).Model(&models.AlertFiring{}).
		Where("user_id = ? AND resolved_at >= ?", userID, since).
		Count(&resolved).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count resolved firings: %w", err)
	}
	return fired, resolved, nil
}

// AppendFiringNotification records that a channel was notified for the
// episode.
func (s *Store) AppendFiringNotification(ctx context.Context, firingID, channel string) error {
	var firing models.AlertFiring
	if err := s.db(ctx).First(&firing, "id = ?", firingID).Error; err != nil {
		return fmt.Errorf("failed to load firing: %w", translateError(err))
	}
	firing.NotificationsSent = append(firing.NotificationsSent, channel)
	err := s.db(ctx).Model(&models.AlertFiring{}).
		Where("id = ?", firingID).
		Update("notifications_sent", firing.NotificationsSent).Error
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

// DeleteResolvedFiringsBefore removes resolved episodes older than cutoff.
func (s *Store) DeleteResolvedFiringsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).
		Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff).
		Delete(&models.AlertFiring{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete resolved firings: %w", res.Error)
	}
	return res.RowsAffected, nil
}
