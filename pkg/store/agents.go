package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// UpsertAgentStatus inserts or replaces the status row for one
// (user, agent) pair. The agent executor is the only caller.
func (s *Store) UpsertAgentStatus(ctx context.Context, status *models.AgentStatus) error {
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "agent_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_job_id", "started_at", "last_active_at",
			"total_executions", "consecutive_failures", "avg_duration_ms",
			"updated_at",
		}),
	}).Create(status).Error
	if err != nil {
		return fmt.Errorf("failed to upsert agent status: %w", err)
	}
	return nil
}

// GetAgentStatus loads the status row for one (user, agent) pair.
func (s *Store) GetAgentStatus(ctx context.Context, userID, agentName string) (*models.AgentStatus, error) {
	var status models.AgentStatus
	err := s.db(ctx).
		Where("user_id = ? AND agent_name = ?", userID, agentName).
		First(&status).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get agent status: %w", translateError(err))
	}
	return &status, nil
}

// ListAgentStatuses returns all agent rows for a user.
func (s *Store) ListAgentStatuses(ctx context.Context, userID string) ([]models.AgentStatus, error) {
	var statuses []models.AgentStatus
	err := s.db(ctx).
		Where("user_id = ?", userID).
		Order("agent_name ASC").
		Find(&statuses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agent statuses: %w", err)
	}
	return statuses, nil
}

// CountAgentsByState tallies a user's agents per state.
func (s *Store) CountAgentsByState(ctx context.Context, userID string) (map[models.AgentState]int64, error) {
	type row struct {
		Status models.AgentState
		N      int64
	}
	var rows []row
	err := s.db(ctx).Model(&models.AgentStatus{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}
	counts := make(map[models.AgentState]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// TouchAgentSuccess transitions an agent row back to idle after a
// successful execution. The duration average follows the same weighting
// as AgentStatus.ObserveDuration but is applied in SQL so two executors
// finishing at once cannot clobber each other's sample.
func (s *Store) TouchAgentSuccess(ctx context.Context, userID, agentName string, now time.Time, durationMS float64) error {
	res := s.db(ctx).Model(&models.AgentStatus{}).
		Where("user_id = ? AND agent_name = ?", userID, agentName).
		Updates(map[string]any{
			"status":               models.AgentIdle,
			"current_job_id":       "",
			"started_at":           nil,
			"last_active_at":       now,
			"total_executions":     gorm.Expr("total_executions + 1"),
			"consecutive_failures": 0,
			"avg_duration_ms": gorm.Expr(
				"CASE WHEN total_executions = 0 OR avg_duration_ms = 0 THEN ? ELSE ? * 0.2 + avg_duration_ms * 0.8 END",
				durationMS, durationMS,
			),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record agent success: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAgentFailure transitions an agent row for a failed execution inside
// a single update so concurrent readers never see a half-written row.
func (s *Store) TouchAgentFailure(ctx context.Context, userID, agentName string) error {
	res := s.db(ctx).Model(&models.AgentStatus{}).
		Where("user_id = ? AND agent_name = ?", userID, agentName).
		Updates(map[string]any{
			"status":               models.AgentFailed,
			"current_job_id":       "",
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record agent failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
