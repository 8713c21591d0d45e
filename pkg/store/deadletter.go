package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// GetDeadLetter loads one dead-letter entry by id.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	if err := s.db(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", translateError(err))
	}
	return &entry, nil
}

// ListDeadLetters returns a user's dead letters, newest first. When
// unresolvedOnly is set, resolved entries are filtered out.
func (s *Store) ListDeadLetters(ctx context.Context, userID string, unresolvedOnly bool, limit int) ([]models.DeadLetterEntry, error) {
	q := s.db(ctx).Where("user_id = ?", userID).Order("entered_at DESC")
	if unresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.DeadLetterEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

// CountUnresolvedDeadLetters counts a user's open dead letters.
func (s *Store) CountUnresolvedDeadLetters(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db(ctx).Model(&models.DeadLetterEntry{}).
		Where("user_id = ? AND resolved_at IS NULL", userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// ResolveDeadLetter stamps resolved_at on an open entry.
func (s *Store) ResolveDeadLetter(ctx context.Context, id string, now time.Time) error {
	res := s.db(ctx).Model(&models.DeadLetterEntry{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", now)
	if res.Error != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplayDeadLetter re-enqueues the failed job behind an open dead-letter
// entry as a fresh job with a reset retry budget, buries the original, and
// resolves the entry. The three writes commit together.
func (s *Store) ReplayDeadLetter(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	var replay *models.Job
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.DeadLetterEntry
		if err := tx.First(&entry, "id = ? AND resolved_at IS NULL", id).Error; err != nil {
			return fmt.Errorf("failed to load dead letter: %w", translateError(err))
		}

		var original models.Job
		if err := tx.First(&original, "id = ?", entry.JobID).Error; err != nil {
			return fmt.Errorf("failed to load original job: %w", translateError(err))
		}

		replay = &models.Job{
			Queue:         original.Queue,
			Type:          original.Type,
			Payload:       original.Payload,
			Status:        models.JobWaiting,
			Priority:      original.Priority,
			MaxAttempts:   original.MaxAttempts,
			BackoffBaseMS: original.BackoffBaseMS,
			TimeoutMS:     original.TimeoutMS,
			EnqueuedAt:    now,
			UserID:        original.UserID,
			MissionID:     original.MissionID,
		}
		if err := tx.Create(replay).Error; err != nil {
			return fmt.Errorf("failed to enqueue replay job: %w", err)
		}

		if err := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", original.ID, models.JobFailed).
			Update("status", models.JobDead).Error; err != nil {
			return fmt.Errorf("failed to bury original job: %w", err)
		}

		res := tx.Model(&models.DeadLetterEntry{}).
			Where("id = ? AND resolved_at IS NULL", id).
			Update("resolved_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to resolve dead letter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replay, nil
}

// PurgeDeadLetter resolves an open entry and buries its job without a
// replay.
func (s *Store) PurgeDeadLetter(ctx context.Context, id string, now time.Time) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.DeadLetterEntry
		if err := tx.First(&entry, "id = ? AND resolved_at IS NULL", id).Error; err != nil {
			return fmt.Errorf("failed to load dead letter: %w", translateError(err))
		}

		if err := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", entry.JobID, models.JobFailed).
			Update("status", models.JobDead).Error; err != nil {
			return fmt.Errorf("failed to bury job: %w", err)
		}

		err := tx.Model(&models.DeadLetterEntry{}).
			Where("id = ?", id).
			Update("resolved_at", now).Error
		if err != nil {
			return fmt.Errorf("failed to resolve dead letter: %w", err)
		}
		return nil
	})
}

// DeleteResolvedDeadLettersBefore removes resolved entries older than
// cutoff. Returns the number of rows removed.
func (s *Store) DeleteResolvedDeadLettersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).
		Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff).
		Delete(&models.DeadLetterEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete resolved dead letters: %w", res.Error)
	}
	return res.RowsAffected, nil
}
