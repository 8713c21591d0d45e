// Package schedule turns stored schedules into recurring mission
// submissions. Each active schedule maps to one gocron timer, tagged
// with the schedule id; ticks re-read the row so plan edits and
// deactivation take effect without re-registration. The CRUD surface
// accepts only the fixed cron vocabulary; rows carrying anything else
// run hourly with a logged warning.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// MissionSubmitter submits a plan for execution. The mission service
// implements it.
type MissionSubmitter interface {
	Submit(ctx context.Context, userID string, plan models.Plan) (*models.Mission, error)
}

// Scheduler owns the recurring-mission timers, one gocron job per active
// schedule.
type Scheduler struct {
	store    *store.Store
	missions MissionSubmitter
	cron     gocron.Scheduler
	logger   *slog.Logger
}

// NewScheduler wires the timers. Call Start to load schedules and begin
// ticking.
func NewScheduler(st *store.Store, missions MissionSubmitter, logger *slog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		store:    st,
		missions: missions,
		cron:     cron,
		logger:   logger.With("component", "scheduler"),
	}, nil
}

// Start registers every active schedule and starts the timers. A schedule
// that fails to register is logged and skipped; the rest still run.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, "", true)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	for i := range schedules {
		if err := s.register(&schedules[i]); err != nil {
			s.logger.Error("Failed to register schedule", "schedule_id", schedules[i].ID, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", "schedules", len(schedules))
	return nil
}

// Stop shuts the timers down, waiting for in-flight ticks to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// Add registers a newly created schedule with the running timers.
// Inactive schedules are ignored.
func (s *Scheduler) Add(sched *models.Schedule) error {
	if !sched.IsActive {
		return nil
	}
	return s.register(sched)
}

// Remove drops a schedule's timer. Safe while the scheduler is running.
func (s *Scheduler) Remove(scheduleID string) {
	s.cron.RemoveByTags(scheduleID)
}

// Update re-registers a schedule after its cron expression or active flag
// changed.
func (s *Scheduler) Update(sched *models.Schedule) error {
	s.cron.RemoveByTags(sched.ID)
	if !sched.IsActive {
		return nil
	}
	return s.register(sched)
}

func (s *Scheduler) register(sched *models.Schedule) error {
	expr := sched.CronExpr
	if !KnownCron(expr) {
		// Rows written before a vocabulary change still have to run.
		s.logger.Warn("Unknown cron expression, running hourly",
			"schedule_id", sched.ID, "cron_expr", expr)
		expr = HourlyCron
	}
	id := sched.ID
	_, err := s.cron.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() { s.tick(id, expr) }),
		gocron.WithTags(id),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register schedule %s (%q): %w", id, expr, err)
	}
	return nil
}

// tick submits one scheduled mission. The row is re-read so edits made
// since registration take effect; a deleted row drops its own timer.
func (s *Scheduler) tick(scheduleID, expr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.cron.RemoveByTags(scheduleID)
			return
		}
		s.logger.Error("Failed to load schedule at tick", "schedule_id", scheduleID, "error", err)
		return
	}
	if !sched.IsActive {
		return
	}

	m, err := s.missions.Submit(ctx, sched.UserID, sched.Plan)
	if err != nil {
		s.logger.Error("Scheduled mission rejected",
			"schedule_id", scheduleID, "schedule", sched.Name, "error", err)
		return
	}

	now := time.Now().UTC()
	next := nextAfter(expr, now)
	if err := s.store.MarkScheduleRun(ctx, scheduleID, now, &next); err != nil {
		s.logger.Warn("Failed to stamp schedule run", "schedule_id", scheduleID, "error", err)
	}
	s.logger.Info("Scheduled mission submitted",
		"schedule_id", scheduleID, "schedule", sched.Name,
		"mission_id", m.ID, "user_id", sched.UserID)
}
