package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// Executor resolves agent names to handlers and wraps every invocation
// with status bookkeeping and cost accounting.
type Executor struct {
	registry  *Registry
	store     *store.Store
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewExecutor creates an executor. The publisher may be nil when event
// broadcasting is not wired.
func NewExecutor(registry *Registry, st *store.Store, publisher *events.Publisher, logger *slog.Logger) *Executor {
	return &Executor{
		registry:  registry,
		store:     st,
		publisher: publisher,
		logger:    logger.With("component", "agent_executor"),
	}
}

// Execute runs the named agent and returns its output together with the
// measured duration and billed credits. The agent's status row is
// flipped to active before the handler runs and lands on idle or failed
// afterwards, so status reads never miss an in-flight execution.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Execution, error) {
	handler, ok := e.registry.lookup(inv.AgentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, inv.AgentName)
	}
	if inv.Sink == nil {
		inv.Sink = noopSink{}
	}

	logger := e.logger.With("agent", inv.AgentName, "user_id", inv.UserID, "job_id", inv.JobID)

	if err := e.markActive(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to mark agent active: %w", err)
	}
	e.publishStatus(inv.UserID, inv.AgentName)

	logger.Info("Agent execution started")
	start := time.Now()
	result, err := e.invoke(ctx, handler, inv)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		e.markFailure(inv, logger)
		logger.Error("Agent execution failed", "error", err, "duration_ms", durationMS)
		return nil, err
	}

	var usage models.TokenUsage
	if result.TokenUsage != nil {
		usage = *result.TokenUsage
	} else {
		inv.Sink.Log("warn", fmt.Sprintf("agent %s reported no token usage; cost recorded as 0 credits", inv.AgentName))
	}
	credits := usage.Credits()

	e.markSuccess(inv, durationMS, logger)
	logger.Info("Agent execution completed", "duration_ms", durationMS, "cost_credits", credits)

	return &Execution{
		Output:      result.Output,
		CostCredits: credits,
		DurationMS:  durationMS,
		TokenUsage:  usage,
	}, nil
}

// invoke shields the executor from handler panics so one misbehaving
// agent fails its own invocation instead of the calling worker.
func (e *Executor) invoke(ctx context.Context, handler Handler, inv Invocation) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Agent handler panicked",
				"agent", inv.AgentName,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()

	result, err = handler.Execute(ctx, inv)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("agent %s returned no result", inv.AgentName)
	}
	return result, nil
}

func (e *Executor) markActive(ctx context.Context, inv Invocation) error {
	status, err := e.store.GetAgentStatus(ctx, inv.UserID, inv.AgentName)
	if errors.Is(err, store.ErrNotFound) {
		status = &models.AgentStatus{UserID: inv.UserID, AgentName: inv.AgentName}
	} else if err != nil {
		return err
	}

	now := time.Now().UTC()
	status.Status = models.AgentActive
	status.CurrentJobID = inv.JobID
	status.StartedAt = &now
	return e.store.UpsertAgentStatus(ctx, status)
}

// markSuccess and markFailure use a background context: the terminal
// status must land even when the invocation context is already
// cancelled.
func (e *Executor) markSuccess(inv Invocation, durationMS int64, logger *slog.Logger) {
	err := e.store.TouchAgentSuccess(context.Background(), inv.UserID, inv.AgentName, time.Now().UTC(), float64(durationMS))
	if err != nil {
		logger.Warn("Failed to record agent success", "error", err)
		return
	}
	e.publishStatus(inv.UserID, inv.AgentName)
}

func (e *Executor) markFailure(inv Invocation, logger *slog.Logger) {
	err := e.store.TouchAgentFailure(context.Background(), inv.UserID, inv.AgentName)
	if err != nil {
		logger.Warn("Failed to record agent failure", "error", err)
		return
	}
	e.publishStatus(inv.UserID, inv.AgentName)
}

// publishStatus broadcasts the agent row as it stands now. Best effort:
// a failed read or publish is logged and dropped.
func (e *Executor) publishStatus(userID, agentName string) {
	if e.publisher == nil {
		return
	}

	ctx := context.Background()
	status, err := e.store.GetAgentStatus(ctx, userID, agentName)
	if err != nil {
		e.logger.Warn("Failed to load agent status for event", "agent", agentName, "error", err)
		return
	}

	err = e.publisher.PublishAgentStatus(ctx, userID, events.AgentStatusPayload{
		AgentName:           status.AgentName,
		Status:              string(status.Status),
		CurrentJobID:        status.CurrentJobID,
		ConsecutiveFailures: status.ConsecutiveFailures,
		AvgDurationMS:       status.AvgDurationMS,
	})
	if err != nil {
		e.logger.Warn("Failed to publish agent status", "agent", agentName, "error", err)
	}
}
