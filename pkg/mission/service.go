package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/store"
)

const (
	// QueueName is the task queue missions run through.
	QueueName = "missions"

	// JobTypeRun is the job type of a mission execution.
	JobTypeRun = "mission.run"
)

// runPayload is the queue payload of a mission execution job.
type runPayload struct {
	MissionID string `json:"mission_id"`
}

func (p *runPayload) Validate() error {
	if p.MissionID == "" {
		return fmt.Errorf("mission_id is required")
	}
	return nil
}

// Service submits missions and executes them off the missions queue.
type Service struct {
	store     *store.Store
	manager   *queue.Manager
	agents    Agents
	publisher *events.Publisher
	config    *config.MissionConfig
	logger    *slog.Logger
}

// NewService wires the mission executor. The publisher may be nil.
func NewService(st *store.Store, manager *queue.Manager, agents Agents, publisher *events.Publisher, cfg *config.MissionConfig, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		manager:   manager,
		agents:    agents,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "mission"),
	}
}

// Register binds the mission run handler to the missions queue.
func (s *Service) Register() error {
	return s.manager.Register(QueueName, JobTypeRun, runPayload{}, s.handleRun)
}

// Submit validates a plan, persists the mission and enqueues its
// execution. Invalid plans are rejected synchronously; nothing is
// persisted for them.
func (s *Service) Submit(ctx context.Context, userID string, plan models.Plan) (*models.Mission, error) {
	if _, err := buildGraph(plan); err != nil {
		return nil, err
	}

	m := &models.Mission{
		UserID: userID,
		Status: models.MissionPending,
		Plan:   plan,
	}
	if err := s.store.CreateMission(ctx, m); err != nil {
		return nil, err
	}

	_, err := s.manager.Enqueue(ctx, QueueName, JobTypeRun, runPayload{MissionID: m.ID}, queue.EnqueueOptions{
		UserID:    userID,
		MissionID: m.ID,
	})
	if err != nil {
		s.logger.Error("Failed to enqueue mission run", "mission_id", m.ID, "error", err)
		return nil, fmt.Errorf("failed to enqueue mission: %w", err)
	}

	s.logger.Info("Mission submitted", "mission_id", m.ID, "user_id", userID, "steps", len(plan.Steps))
	return m, nil
}

// Get loads one mission, scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Mission, error) {
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	return m, nil
}

// List returns a user's missions, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]models.Mission, int64, error) {
	return s.store.ListMissions(ctx, userID, limit, offset)
}

// handleRun executes one mission job. Infrastructure errors are
// returned so the queue retries; business outcomes settle the mission
// row and complete the job.
func (s *Service) handleRun(ctx context.Context, job *models.Job, payload any, sink queue.LogSink) error {
	p := payload.(*runPayload)
	logger := s.logger.With("mission_id", p.MissionID, "job_id", job.ID)

	m, err := s.store.GetMission(ctx, p.MissionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("mission %s does not exist", p.MissionID))
		}
		return err
	}

	switch m.Status {
	case models.MissionCompleted, models.MissionFailed:
		logger.Info("Mission already settled, skipping run", "status", m.Status)
		return nil
	case models.MissionPending:
		if err := s.store.MarkMissionRunning(ctx, m.ID); err != nil {
			return err
		}
		s.publishRunning(m)
	case models.MissionRunning:
		// A previous attempt died mid-run; start over.
		logger.Warn("Resuming mission after interrupted attempt")
	}

	g, err := buildGraph(m.Plan)
	if err != nil {
		// The plan was validated at submission; reaching this means the
		// stored row was tampered with. Settle the mission, not the job.
		sink.Log("error", err.Error())
		audit := models.AuditLog{{Message: err.Error(), Timestamp: time.Now().UTC()}}
		if failErr := s.store.FailMission(context.Background(), m.ID, "", audit, models.CostMap{}, 0); failErr != nil {
			return failErr
		}
		return nil
	}

	r := newRunner(m, g, s.agents, s.store, s.publisher, s.logger, s.config.ParallelismCap)
	return r.Run(ctx)
}

func (s *Service) publishRunning(m *models.Mission) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishMissionStatus(context.Background(), events.EventTypeMissionStarted, m.UserID, events.MissionStatusPayload{
		MissionID: m.ID,
		Status:    string(models.MissionRunning),
	})
	if err != nil {
		s.logger.Warn("Failed to publish mission started event", "mission_id", m.ID, "error", err)
	}
}
