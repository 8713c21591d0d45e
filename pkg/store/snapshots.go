package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// UpsertMetricSnapshot writes the minute snapshot for (bucket, user),
// overwriting an existing row for that minute. The snapshotter is the
// single writer, so last-write-wins is safe.
func (s *Store) UpsertMetricSnapshot(ctx context.Context, snap *models.MetricSnapshot) error {
	snap.Bucket = snap.Bucket.UTC().Truncate(time.Minute)
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bucket"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"queue_depth", "active_jobs", "failed_jobs", "completed_jobs",
			"active_agents", "idle_agents", "jobs_per_minute", "cost_per_hour",
			"tokens_per_minute", "error_rate", "health_score", "updated_at",
		}),
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to upsert metric snapshot: %w", err)
	}
	return nil
}

// ListSnapshotsSince returns a user's minute snapshots at or after since,
// oldest first.
func (s *Store) ListSnapshotsSince(ctx context.Context, userID string, since time.Time) ([]models.MetricSnapshot, error) {
	var snaps []models.MetricSnapshot
	err := s.db(ctx).
		Where("user_id = ? AND bucket >= ?", userID, since).
		Order("bucket ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// LatestSnapshot returns a user's most recent minute snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, userID string) (*models.MetricSnapshot, error) {
	var snap models.MetricSnapshot
	err := s.db(ctx).
		Where("user_id = ?", userID).
		Order("bucket DESC").
		First(&snap).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", translateError(err))
	}
	return &snap, nil
}

// DeleteSnapshotsBefore removes snapshots older than cutoff. Returns the
// number of rows removed.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).
		Where("bucket < ?", cutoff).
		Delete(&models.MetricSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
