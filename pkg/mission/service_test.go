package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/agent"
	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/store"
	testdb "github.com/gpilot-io/gpilot/test/database"
)

// newTestService wires a full stack: store, queue workers, agent
// executor and the mission service, all against an in-memory database.
func newTestService(t *testing.T) (*Service, *agent.Registry, *store.Store) {
	t.Helper()

	client := testdb.NewTestClient(t)
	st := store.New(client, slog.Default())

	cfg := config.DefaultQueueConfig()
	cfg.DefaultConcurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollIntervalJitter = 2 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond

	mgr := queue.NewManager("test-proc", st, cfg, nil, queue.NewMetrics(prometheus.NewRegistry()))
	registry := agent.NewRegistry()
	executor := agent.NewExecutor(registry, st, nil, slog.Default())
	svc := NewService(st, mgr, executor, nil, config.DefaultMissionConfig(), slog.Default())

	require.NoError(t, svc.Register())
	require.NoError(t, mgr.StartWorkers(context.Background(), QueueName))
	t.Cleanup(mgr.Stop)

	return svc, registry, st
}

// registerAgent binds a fixed-output agent that bills one credit.
func registerAgent(t *testing.T, registry *agent.Registry, name, output string) {
	t.Helper()
	require.NoError(t, registry.Register(name, agent.HandlerFunc(
		func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			return &agent.Result{
				Output:     models.JSON(output),
				TokenUsage: &models.TokenUsage{PromptTokens: 90_000, CompletionTokens: 10_000},
			}, nil
		})))
}

func waitForMission(t *testing.T, st *store.Store, id string, status models.MissionStatus) *models.Mission {
	t.Helper()
	var m *models.Mission
	require.Eventually(t, func() bool {
		var err error
		m, err = st.GetMission(context.Background(), id)
		require.NoError(t, err)
		return m.Status == status
	}, 5*time.Second, 10*time.Millisecond, "mission %s never reached %s", id, status)
	return m
}

func auditFor(m *models.Mission, step string, outcome models.StepOutcome) *models.AuditEntry {
	for i := range m.Audit {
		if m.Audit[i].StepName == step && m.Audit[i].Outcome == outcome {
			return &m.Audit[i]
		}
	}
	return nil
}

func TestMissionLinearChain(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "fetch", `{"rows": 10}`)
	registerAgent(t, registry, "parse", `{"parsed": true}`)
	require.NoError(t, registry.Register("report", agent.HandlerFunc(
		func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			inv.Sink.Log("info", "rendering summary")
			return &agent.Result{
				Output:     models.JSON(`{"url": "https://reports/1"}`),
				TokenUsage: &models.TokenUsage{PromptTokens: 100_000},
			}, nil
		})))

	m, err := svc.Submit(context.Background(), "alice", plan(
		step("fetch"), step("parse", "fetch"), step("report", "parse"),
	))
	require.NoError(t, err)
	assert.Equal(t, models.MissionPending, m.Status)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(done.Result, &result))
	assert.JSONEq(t, `{"rows": 10}`, string(result["fetch"]))
	assert.JSONEq(t, `{"parsed": true}`, string(result["parse"]))
	assert.JSONEq(t, `{"url": "https://reports/1"}`, string(result["report"]))

	assert.Equal(t, models.CostMap{"fetch": 1, "parse": 1, "report": 1}, done.AgentCosts)
	assert.EqualValues(t, 3, done.TotalCost)
	assert.EqualValues(t, 300_000, done.TokensUsed)
	assert.Empty(t, done.FailedStep)

	for _, name := range []string{"fetch", "parse", "report"} {
		assert.NotNil(t, auditFor(done, name, models.StepStarted), name)
		assert.NotNil(t, auditFor(done, name, models.StepCompleted), name)
	}
	sinkLine := auditFor(done, "report", "")
	require.NotNil(t, sinkLine)
	assert.Equal(t, "info: rendering summary", sinkLine.Message)
}

func TestMissionConditionSkip(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "scorer", `{"score": 70}`)
	registerAgent(t, registry, "publisher", `{"published": true}`)

	m, err := svc.Submit(context.Background(), "alice", models.Plan{Steps: []models.Step{
		{AgentName: "scorer"},
		{AgentName: "publisher", Dependencies: []string{"scorer"}, Condition: "score > 80"},
	}})
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)

	entry := auditFor(done, "publisher", models.StepSkipped)
	require.NotNil(t, entry)
	assert.Contains(t, entry.Message, "not met")

	assert.Equal(t, models.CostMap{"scorer": 1}, done.AgentCosts)
	assert.NotContains(t, done.AgentCosts, "publisher")

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(done.Result, &result))
	assert.NotContains(t, result, "publisher")
}

func TestMissionInvalidConditionSkipsNotAborts(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "scorer", `{"score": 70}`)
	registerAgent(t, registry, "publisher", `{"published": true}`)

	m, err := svc.Submit(context.Background(), "alice", models.Plan{Steps: []models.Step{
		{AgentName: "scorer"},
		{AgentName: "publisher", Dependencies: []string{"scorer"}, Condition: "score >"},
	}})
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)

	entry := auditFor(done, "publisher", models.StepSkipped)
	require.NotNil(t, entry)
	assert.Contains(t, entry.Message, "invalid condition")
}

func TestMissionSkipInheritance(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "scorer", `{"score": 70}`)
	registerAgent(t, registry, "gate", `{"gated": true}`)
	registerAgent(t, registry, "downstream", `{"ran": true}`)
	registerAgent(t, registry, "mixed", `{"ran": true}`)

	m, err := svc.Submit(context.Background(), "alice", models.Plan{Steps: []models.Step{
		{AgentName: "scorer"},
		{AgentName: "gate", Dependencies: []string{"scorer"}, Condition: "score > 80"},
		// All dependencies skipped: inherits the skip.
		{AgentName: "downstream", Dependencies: []string{"gate"}},
		// One dependency ran: runs despite the skipped one.
		{AgentName: "mixed", Dependencies: []string{"scorer", "gate"}},
	}})
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)

	gateSkip := auditFor(done, "gate", models.StepSkipped)
	require.NotNil(t, gateSkip)

	downSkip := auditFor(done, "downstream", models.StepSkipped)
	require.NotNil(t, downSkip)
	assert.Contains(t, downSkip.Message, "dependencies skipped")

	assert.NotNil(t, auditFor(done, "mixed", models.StepCompleted))
	assert.Equal(t, models.CostMap{"scorer": 1, "mixed": 1}, done.AgentCosts)
}

func TestMissionFailFast(t *testing.T) {
	svc, registry, st := newTestService(t)

	require.NoError(t, registry.Register("fetch", agent.HandlerFunc(
		func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			return nil, errors.New("upstream returned 503")
		})))
	registerAgent(t, registry, "parse", `{"parsed": true}`)

	m, err := svc.Submit(context.Background(), "alice", plan(
		step("fetch"), step("parse", "fetch"),
	))
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionFailed)

	assert.Equal(t, "fetch", done.FailedStep)

	failEntry := auditFor(done, "fetch", models.StepFailed)
	require.NotNil(t, failEntry)
	assert.Contains(t, failEntry.Message, "503")

	parseSkip := auditFor(done, "parse", models.StepSkipped)
	require.NotNil(t, parseSkip)
	assert.Contains(t, parseSkip.Message, "not started")
	assert.NotContains(t, done.AgentCosts, "parse")
}

func TestMissionContinueOnError(t *testing.T) {
	svc, registry, st := newTestService(t)

	require.NoError(t, registry.Register("flaky", agent.HandlerFunc(
		func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			return nil, errors.New("boom")
		})))
	registerAgent(t, registry, "gated", `{"ran": true}`)
	registerAgent(t, registry, "tolerant", `{"ran": true}`)

	m, err := svc.Submit(context.Background(), "alice", models.Plan{Steps: []models.Step{
		{AgentName: "flaky", ContinueOnError: true},
		// Conditions against the null output are simply not met.
		{AgentName: "gated", Dependencies: []string{"flaky"}, Condition: "ok == 1"},
		{AgentName: "tolerant", Dependencies: []string{"flaky"}},
	}})
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)

	assert.Empty(t, done.FailedStep)
	assert.NotNil(t, auditFor(done, "flaky", models.StepFailed))
	assert.NotNil(t, auditFor(done, "gated", models.StepSkipped))
	assert.NotNil(t, auditFor(done, "tolerant", models.StepCompleted))

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(done.Result, &result))
	assert.Equal(t, "null", string(result["flaky"]))
	assert.NotContains(t, done.AgentCosts, "flaky")
}

func TestMissionUnknownAgentFailsStep(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "known", `{"ok": true}`)

	m, err := svc.Submit(context.Background(), "alice", plan(step("known"), step("ghost", "known")))
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionFailed)
	assert.Equal(t, "ghost", done.FailedStep)

	entry := auditFor(done, "ghost", models.StepFailed)
	require.NotNil(t, entry)
	assert.Contains(t, entry.Message, "not registered")
}

func TestMissionSubmitRejectsInvalidPlans(t *testing.T) {
	svc, _, st := newTestService(t)

	cases := map[string]models.Plan{
		"empty":       {},
		"duplicate":   plan(step("a"), step("a")),
		"unknown dep": plan(step("a", "ghost")),
		"cycle":       plan(step("a", "b"), step("b", "a")),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), "alice", p)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	_, total, err := st.ListMissions(context.Background(), "alice", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "invalid plans must not persist missions")
}

func TestMissionGetScopedToOwner(t *testing.T) {
	svc, registry, st := newTestService(t)

	registerAgent(t, registry, "fetch", `{"ok": true}`)

	m, err := svc.Submit(context.Background(), "alice", plan(step("fetch")))
	require.NoError(t, err)
	waitForMission(t, st, m.ID, models.MissionCompleted)

	got, err := svc.Get(context.Background(), "alice", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = svc.Get(context.Background(), "mallory", m.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMissionParallelLevelRuns(t *testing.T) {
	svc, registry, st := newTestService(t)

	// Both level-0 steps hold until the other arrives; the level cannot
	// settle unless they truly run concurrently.
	started := map[string]chan struct{}{
		"left":  make(chan struct{}),
		"right": make(chan struct{}),
	}
	peer := map[string]string{"left": "right", "right": "left"}
	for _, name := range []string{"left", "right"} {
		require.NoError(t, registry.Register(name, agent.HandlerFunc(
			func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
				close(started[inv.AgentName])
				select {
				case <-started[peer[inv.AgentName]]:
				case <-time.After(2 * time.Second):
					return nil, fmt.Errorf("%s never saw its peer start", inv.AgentName)
				}
				return &agent.Result{Output: models.JSON(fmt.Sprintf(`{"agent": %q}`, inv.AgentName))}, nil
			})))
	}
	registerAgent(t, registry, "join", `{"joined": true}`)

	m, err := svc.Submit(context.Background(), "alice", plan(
		step("left"), step("right"), step("join", "left", "right"),
	))
	require.NoError(t, err)

	done := waitForMission(t, st, m.ID, models.MissionCompleted)
	assert.NotNil(t, auditFor(done, "join", models.StepCompleted))
}
