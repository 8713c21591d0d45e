package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gpilot-io/gpilot/pkg/agent"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// Agents is the slice of the agent executor the runner needs.
type Agents interface {
	Execute(ctx context.Context, inv agent.Invocation) (*agent.Execution, error)
}

// runner drives one mission through its levels. It is built fresh for
// every run attempt; all mutable state lives here, guarded by mu, and
// is written back to the mission row when the run settles.
type runner struct {
	mission     *models.Mission
	graph       *graph
	agents      Agents
	store       *store.Store
	publisher   *events.Publisher
	logger      *slog.Logger
	parallelism int

	mu      sync.Mutex
	outputs map[string]models.JSON
	skipped map[string]string
	failed  map[string]string
	costs   models.CostMap
	tokens  int64
	audit   models.AuditLog
}

func newRunner(mission *models.Mission, g *graph, agents Agents, st *store.Store, publisher *events.Publisher, logger *slog.Logger, parallelism int) *runner {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &runner{
		mission:     mission,
		graph:       g,
		agents:      agents,
		store:       st,
		publisher:   publisher,
		logger:      logger.With("mission_id", mission.ID),
		parallelism: parallelism,
		outputs:     make(map[string]models.JSON),
		skipped:     make(map[string]string),
		failed:      make(map[string]string),
		costs:       models.CostMap{},
	}
}

// Run executes the mission level by level. A returned error means the
// run was interrupted by infrastructure (cancellation, storage); the
// mission stays RUNNING and the queue retry re-runs it. Business
// outcomes, completed or failed, are written to the mission row and
// return nil.
func (r *runner) Run(ctx context.Context) error {
	for _, names := range r.graph.levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		toRun := make([]string, 0, len(names))
		for _, name := range names {
			if reason, skip := r.shouldSkip(name); skip {
				r.recordSkip(name, reason)
				continue
			}
			toRun = append(toRun, name)
		}

		var g errgroup.Group
		g.SetLimit(r.parallelism)
		for _, name := range toRun {
			g.Go(func() error {
				r.runStep(ctx, name)
				return nil
			})
		}
		_ = g.Wait()

		r.persistAudit(ctx)

		if err := ctx.Err(); err != nil {
			return err
		}
		if name, msg, fatal := r.fatalFailure(); fatal {
			r.abortRemaining(name)
			return r.finishFailed(name, msg)
		}
	}
	return r.finishCompleted()
}

// shouldSkip decides whether a step is skipped before dispatch: either
// every dependency was skipped, or its condition does not hold against
// the dependency outputs.
func (r *runner) shouldSkip(name string) (string, bool) {
	n := r.graph.nodes[name]

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(n.step.Dependencies) > 0 {
		allSkipped := true
		for _, dep := range n.step.Dependencies {
			if _, ok := r.skipped[dep]; !ok {
				allSkipped = false
				break
			}
		}
		if allSkipped {
			return "all dependencies skipped", true
		}
	}

	if n.step.Condition != "" {
		view := r.buildViewLocked(n.step.Dependencies)
		ok, err := evalCondition(n.step.Condition, view)
		if err != nil {
			return fmt.Sprintf("invalid condition %q: %v", n.step.Condition, err), true
		}
		if !ok {
			return fmt.Sprintf("condition %q not met", n.step.Condition), true
		}
	}
	return "", false
}

// buildViewLocked assembles the read-only view a condition evaluates
// against: each dependency output under its agent name, plus the
// top-level fields of object outputs merged in declaration order.
// Callers hold mu.
func (r *runner) buildViewLocked(deps []string) map[string]any {
	view := make(map[string]any, len(deps)*2)
	for _, dep := range deps {
		raw, ok := r.outputs[dep]
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		view[dep] = decoded
		if obj, isObj := decoded.(map[string]any); isObj {
			for k, v := range obj {
				if _, exists := view[k]; !exists {
					view[k] = v
				}
			}
		}
	}
	return view
}

func (r *runner) runStep(ctx context.Context, name string) {
	n := r.graph.nodes[name]

	r.appendAudit(name, models.StepStarted, "")
	r.publishStep(name, models.StepStarted, "")

	exec, err := r.agents.Execute(ctx, agent.Invocation{
		UserID:    r.mission.UserID,
		AgentName: name,
		MissionID: r.mission.ID,
		Input:     n.step.Input,
		Sink:      &stepSink{runner: r, step: name},
	})
	if err != nil {
		r.mu.Lock()
		r.failed[name] = err.Error()
		if n.step.ContinueOnError {
			// Dependents observe the tolerated failure as null.
			r.outputs[name] = models.JSON("null")
		}
		r.mu.Unlock()

		r.appendAudit(name, models.StepFailed, err.Error())
		r.publishStep(name, models.StepFailed, err.Error())
		r.logger.Error("Mission step failed", "step", name, "error", err)
		return
	}

	output := exec.Output
	if len(output) == 0 {
		output = models.JSON("null")
	}

	r.mu.Lock()
	r.outputs[name] = output
	r.costs[name] = exec.CostCredits
	r.tokens += exec.TokenUsage.Total()
	r.mu.Unlock()

	msg := fmt.Sprintf("%d credits in %d ms", exec.CostCredits, exec.DurationMS)
	r.appendAudit(name, models.StepCompleted, msg)
	r.publishStep(name, models.StepCompleted, msg)
}

func (r *runner) recordSkip(name, reason string) {
	r.mu.Lock()
	r.skipped[name] = reason
	r.mu.Unlock()

	r.appendAudit(name, models.StepSkipped, reason)
	r.publishStep(name, models.StepSkipped, reason)
	r.logger.Info("Mission step skipped", "step", name, "reason", reason)
}

// fatalFailure returns the first failed step, in plan order, that was
// not marked continue_on_error.
func (r *runner) fatalFailure() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, names := range r.graph.levels {
		for _, name := range names {
			msg, ok := r.failed[name]
			if ok && !r.graph.nodes[name].step.ContinueOnError {
				return name, msg, true
			}
		}
	}
	return "", "", false
}

// abortRemaining marks every step that has not reached an outcome as
// skipped once the mission is failing.
func (r *runner) abortRemaining(failedStep string) {
	reason := fmt.Sprintf("not started: mission failed at %s", failedStep)
	for _, names := range r.graph.levels {
		for _, name := range names {
			r.mu.Lock()
			_, done := r.outputs[name]
			_, skip := r.skipped[name]
			_, fail := r.failed[name]
			r.mu.Unlock()
			if done || skip || fail {
				continue
			}
			r.recordSkip(name, reason)
		}
	}
}

// finishCompleted aggregates outputs and costs into the terminal
// COMPLETED write. Terminal writes use a background context so the
// outcome lands even when the job context is already gone.
func (r *runner) finishCompleted() error {
	r.mu.Lock()
	combined := make(map[string]json.RawMessage, len(r.outputs))
	for name, out := range r.outputs {
		combined[name] = json.RawMessage(out)
	}
	costs := r.costs
	tokens := r.tokens
	audit := append(models.AuditLog(nil), r.audit...)
	r.mu.Unlock()

	result, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("failed to encode mission result: %w", err)
	}

	ctx := context.Background()
	if err := r.store.CompleteMission(ctx, r.mission.ID, models.JSON(result), audit, costs, tokens); err != nil {
		return err
	}

	r.publishStatus(events.EventTypeMissionCompleted, events.MissionStatusPayload{
		MissionID:  r.mission.ID,
		Status:     string(models.MissionCompleted),
		TotalCost:  costs.Total(),
		TokensUsed: tokens,
	})
	r.logger.Info("Mission completed", "total_cost", costs.Total(), "tokens_used", tokens)
	return nil
}

func (r *runner) finishFailed(failedStep, msg string) error {
	r.mu.Lock()
	costs := r.costs
	tokens := r.tokens
	audit := append(models.AuditLog(nil), r.audit...)
	r.mu.Unlock()

	ctx := context.Background()
	if err := r.store.FailMission(ctx, r.mission.ID, failedStep, audit, costs, tokens); err != nil {
		return err
	}

	r.publishStatus(events.EventTypeMissionFailed, events.MissionStatusPayload{
		MissionID:  r.mission.ID,
		Status:     string(models.MissionFailed),
		FailedStep: failedStep,
		TotalCost:  costs.Total(),
		TokensUsed: tokens,
	})
	r.logger.Error("Mission failed", "step", failedStep, "error", msg)
	return nil
}

func (r *runner) appendAudit(step string, outcome models.StepOutcome, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, models.AuditEntry{
		StepName:  step,
		Outcome:   outcome,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

// persistAudit pushes the trail so far onto the mission row between
// levels. Best effort: observers lose nothing but freshness.
func (r *runner) persistAudit(ctx context.Context) {
	r.mu.Lock()
	audit := append(models.AuditLog(nil), r.audit...)
	r.mu.Unlock()

	if err := r.store.UpdateMissionAudit(ctx, r.mission.ID, audit); err != nil {
		r.logger.Warn("Failed to persist mission audit", "error", err)
	}
}

func (r *runner) publishStep(step string, outcome models.StepOutcome, msg string) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.PublishMissionStep(context.Background(), r.mission.UserID, events.MissionStepPayload{
		MissionID: r.mission.ID,
		StepName:  step,
		AgentName: step,
		Outcome:   string(outcome),
		Message:   msg,
	})
	if err != nil {
		r.logger.Warn("Failed to publish mission step event", "step", step, "error", err)
	}
}

func (r *runner) publishStatus(eventType string, payload events.MissionStatusPayload) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.PublishMissionStatus(context.Background(), eventType, r.mission.UserID, payload)
	if err != nil {
		r.logger.Warn("Failed to publish mission status event", "error", err)
	}
}

// stepSink feeds handler progress lines into the mission audit trail.
type stepSink struct {
	runner *runner
	step   string
}

func (s *stepSink) Log(level, message string) {
	s.runner.appendAudit(s.step, "", fmt.Sprintf("%s: %s", level, message))
}
