package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gpilot-io/gpilot/pkg/mission"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// ValidationError reports a rejected schedule input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Msg)
}

// ScheduleInput carries the user-editable schedule fields.
type ScheduleInput struct {
	Name     string      `json:"name"`
	CronExpr string      `json:"cron_expr"`
	Plan     models.Plan `json:"plan"`
	IsActive *bool       `json:"is_active"`
}

func (in *ScheduleInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if !KnownCron(in.CronExpr) {
		return &ValidationError{Field: "cron_expr", Msg: fmt.Sprintf("unsupported expression %q", in.CronExpr)}
	}
	if err := mission.Validate(in.Plan); err != nil {
		var verr *mission.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Field: "plan", Msg: verr.Msg}
		}
		return &ValidationError{Field: "plan", Msg: err.Error()}
	}
	return nil
}

// Registrar receives live schedule changes so timers follow CRUD without
// a restart. The Scheduler implements it.
type Registrar interface {
	Add(sched *models.Schedule) error
	Remove(scheduleID string)
	Update(sched *models.Schedule) error
}

// Service manages schedule definitions, scoped to their owner.
type Service struct {
	store     *store.Store
	missions  MissionSubmitter
	registrar Registrar
	logger    *slog.Logger
}

// NewService wires schedule CRUD. The registrar may be nil, in which case
// changes take effect on the next restart.
func NewService(st *store.Store, missions MissionSubmitter, registrar Registrar, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		missions:  missions,
		registrar: registrar,
		logger:    logger.With("component", "schedules"),
	}
}

// Create validates and persists a schedule and registers its timer.
func (s *Service) Create(ctx context.Context, userID string, in ScheduleInput) (*models.Schedule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sched := &models.Schedule{
		UserID:   userID,
		Name:     in.Name,
		CronExpr: in.CronExpr,
		Plan:     in.Plan,
		IsActive: true,
	}
	if in.IsActive != nil {
		sched.IsActive = *in.IsActive
	}
	if sched.IsActive {
		next := nextAfter(sched.CronExpr, time.Now().UTC())
		sched.NextRunAt = &next
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}

	if s.registrar != nil {
		if err := s.registrar.Add(sched); err != nil {
			s.logger.Error("Failed to register new schedule", "schedule_id", sched.ID, "error", err)
		}
	}
	s.logger.Info("Schedule created",
		"schedule_id", sched.ID, "user_id", userID, "cron_expr", sched.CronExpr)
	return sched, nil
}

// Get loads one schedule, scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.UserID != userID {
		return nil, fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	return sched, nil
}

// List returns the user's schedules, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]models.Schedule, error) {
	return s.store.ListSchedules(ctx, userID, false)
}

// Update replaces the editable fields and reschedules the timer.
func (s *Service) Update(ctx context.Context, userID, id string, in ScheduleInput) (*models.Schedule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sched, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	sched.Name = in.Name
	sched.CronExpr = in.CronExpr
	sched.Plan = in.Plan
	if in.IsActive != nil {
		sched.IsActive = *in.IsActive
	}
	sched.NextRunAt = nil
	if sched.IsActive {
		next := nextAfter(sched.CronExpr, time.Now().UTC())
		sched.NextRunAt = &next
	}
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}

	if s.registrar != nil {
		if err := s.registrar.Update(sched); err != nil {
			s.logger.Error("Failed to reschedule schedule", "schedule_id", sched.ID, "error", err)
		}
	}
	s.logger.Info("Schedule updated",
		"schedule_id", sched.ID, "user_id", userID, "cron_expr", sched.CronExpr)
	return sched, nil
}

// Delete removes a schedule and its timer.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	if s.registrar != nil {
		s.registrar.Remove(id)
	}
	s.logger.Info("Schedule deleted", "schedule_id", id, "user_id", userID)
	return nil
}

// RunNow submits the schedule's mission immediately, outside its cron
// cadence. The next scheduled tick is unaffected.
func (s *Service) RunNow(ctx context.Context, userID, id string) (*models.Mission, error) {
	sched, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	m, err := s.missions.Submit(ctx, sched.UserID, sched.Plan)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkScheduleRun(ctx, id, time.Now().UTC(), sched.NextRunAt); err != nil {
		s.logger.Warn("Failed to stamp schedule run", "schedule_id", id, "error", err)
	}
	s.logger.Info("Schedule triggered manually",
		"schedule_id", id, "user_id", userID, "mission_id", m.ID)
	return m, nil
}
