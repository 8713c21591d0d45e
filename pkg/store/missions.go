package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// CreateMission persists a new mission in PENDING status.
func (s *Store) CreateMission(ctx context.Context, mission *models.Mission) error {
	if mission.Status == "" {
		mission.Status = models.MissionPending
	}
	if mission.AgentCosts == nil {
		mission.AgentCosts = models.CostMap{}
	}
	if err := s.db(ctx).Create(mission).Error; err != nil {
		return fmt.Errorf("failed to create mission: %w", translateError(err))
	}
	return nil
}

// GetMission loads one mission by id.
func (s *Store) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	var mission models.Mission
	if err := s.db(ctx).First(&mission, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get mission: %w", translateError(err))
	}
	return &mission, nil
}

// ListMissions returns a user's missions, newest first.
func (s *Store) ListMissions(ctx context.Context, userID string, limit, offset int) ([]models.Mission, int64, error) {
	var total int64
	base := s.db(ctx).Model(&models.Mission{}).Where("user_id = ?", userID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count missions: %w", err)
	}
	var missions []models.Mission
	q := s.db(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&missions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list missions: %w", err)
	}
	return missions, total, nil
}

// MarkMissionRunning flips a pending mission to RUNNING.
func (s *Store) MarkMissionRunning(ctx context.Context, id string) error {
	res := s.db(ctx).Model(&models.Mission{}).
		Where("id = ? AND status = ?", id, models.MissionPending).
		Update("status", models.MissionRunning)
	if res.Error != nil {
		return fmt.Errorf("failed to mark mission running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "mark-mission-running", Detail: "mission " + id + " is not pending"}
	}
	return nil
}

// CompleteMission finalizes a running mission with its result, audit trail
// and cost attribution. Terminal status is set exactly once.
func (s *Store) CompleteMission(ctx context.Context, id string, result models.JSON, audit models.AuditLog, costs models.CostMap, tokensUsed int64) error {
	res := s.db(ctx).Model(&models.Mission{}).
		Where("id = ? AND status = ?", id, models.MissionRunning).
		Updates(map[string]any{
			"status":      models.MissionCompleted,
			"result":      result,
			"audit":       audit,
			"agent_costs": costs,
			"total_cost":  costs.Total(),
			"tokens_used": tokensUsed,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete mission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "complete-mission", Detail: "mission " + id + " is not running"}
	}
	return nil
}

// FailMission finalizes a running mission as FAILED, recording the step
// that sank it. Costs accrued before the failure are kept.
func (s *Store) FailMission(ctx context.Context, id, failedStep string, audit models.AuditLog, costs models.CostMap, tokensUsed int64) error {
	res := s.db(ctx).Model(&models.Mission{}).
		Where("id = ? AND status = ?", id, models.MissionRunning).
		Updates(map[string]any{
			"status":      models.MissionFailed,
			"failed_step": failedStep,
			"audit":       audit,
			"agent_costs": costs,
			"total_cost":  costs.Total(),
			"tokens_used": tokensUsed,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail mission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConsistencyError{Op: "fail-mission", Detail: "mission " + id + " is not running"}
	}
	return nil
}

// UpdateMissionAudit replaces the audit trail of an in-flight mission so
// observers see progress before the terminal write.
func (s *Store) UpdateMissionAudit(ctx context.Context, id string, audit models.AuditLog) error {
	res := s.db(ctx).Model(&models.Mission{}).
		Where("id = ? AND status = ?", id, models.MissionRunning).
		Update("audit", audit)
	if res.Error != nil {
		return fmt.Errorf("failed to update mission audit: %w", res.Error)
	}
	return nil
}

// SumMissionTokensSince totals the tokens of user missions that reached a
// terminal status at or after since.
func (s *Store) SumMissionTokensSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total *int64
	err := s.db(ctx).Model(&models.Mission{}).
		Select("SUM(tokens_used)").
		Where("user_id = ? AND status IN ? AND updated_at >= ?",
			userID, []models.MissionStatus{models.MissionCompleted, models.MissionFailed}, since).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum mission tokens: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// SumMissionCostSince totals the credits of user missions that reached a
// terminal status at or after since.
func (s *Store) SumMissionCostSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total *int64
	err := s.db(ctx).Model(&models.Mission{}).
		Select("SUM(total_cost)").
		Where("user_id = ? AND status IN ? AND updated_at >= ?",
			userID, []models.MissionStatus{models.MissionCompleted, models.MissionFailed}, since).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum mission cost: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
