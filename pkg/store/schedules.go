package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// CreateSchedule persists a recurring mission definition.
func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := s.db(ctx).Create(sched).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", translateError(err))
	}
	return nil
}

// GetSchedule loads one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	if err := s.db(ctx).First(&sched, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", translateError(err))
	}
	return &sched, nil
}

// ListSchedules returns a user's schedules. With userID empty, all schedules
// are returned, which the scheduler uses at startup.
func (s *Store) ListSchedules(ctx context.Context, userID string, activeOnly bool) ([]models.Schedule, error) {
	q := s.db(ctx).Order("created_at ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var scheds []models.Schedule
	if err := q.Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return scheds, nil
}

// UpdateSchedule saves the user-editable schedule fields plus the next
// trigger time recomputed for the new expression.
func (s *Store) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	res := s.db(ctx).Model(&models.Schedule{}).
		Where("id = ?", sched.ID).
		Updates(map[string]any{
			"name":        sched.Name,
			"cron_expr":   sched.CronExpr,
			"plan":        sched.Plan,
			"is_active":   sched.IsActive,
			"next_run_at": sched.NextRunAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res := s.db(ctx).Delete(&models.Schedule{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScheduleRun stamps the last trigger time and the next expected one.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, ranAt time.Time, nextAt *time.Time) error {
	err := s.db(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": ranAt,
			"next_run_at": nextAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	return nil
}
