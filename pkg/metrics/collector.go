// Package metrics assembles the per-user aggregate system view, writes
// minute-resolution snapshots for time-series queries, and scores
// overall health from queue and agent state.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// ValidationError reports a malformed metrics query.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid metrics query: " + e.Msg
}

// QueueStats is the read-only slice of the queue subsystem the
// collector depends on.
type QueueStats interface {
	UserCounts(ctx context.Context, userID string) (models.QueueCounts, error)
}

// AgentDirectory exposes the registered agent names.
type AgentDirectory interface {
	Names() []string
}

// Collector assembles SystemMetrics from parallel store and queue
// reads.
type Collector struct {
	store  *store.Store
	queues QueueStats
	agents AgentDirectory
	window time.Duration
	logger *slog.Logger
}

// NewCollector wires a collector. window is the lookback for rate
// metrics such as jobs_per_minute and error_rate.
func NewCollector(st *store.Store, queues QueueStats, agents AgentDirectory, window time.Duration, logger *slog.Logger) *Collector {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Collector{
		store:  st,
		queues: queues,
		agents: agents,
		window: window,
		logger: logger.With("component", "metrics"),
	}
}

// Collect assembles the current aggregate view for one user. The
// underlying queries run concurrently; each goroutine owns a disjoint
// set of result fields.
func (c *Collector) Collect(ctx context.Context, userID string) (*models.SystemMetrics, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-c.window)
	hourStart := now.Add(-time.Hour)

	m := &models.SystemMetrics{
		UserID:           userID,
		CollectedAt:      now,
		RegisteredAgents: int64(len(c.agents.Names())),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := c.queues.UserCounts(gctx, userID)
		if err != nil {
			return err
		}
		m.QueueDepth = counts.Depth()
		m.ActiveJobs = counts.Active
		m.FailedJobs = counts.Failed
		m.CompletedJobs = counts.Completed
		return nil
	})

	g.Go(func() error {
		states, err := c.store.CountAgentsByState(gctx, userID)
		if err != nil {
			return err
		}
		m.ActiveAgents = states[models.AgentActive]
		m.IdleAgents = states[models.AgentIdle]
		return nil
	})

	g.Go(func() error {
		completed, err := c.store.CountJobsFinishedSince(gctx, userID, []models.JobStatus{models.JobCompleted}, windowStart)
		if err != nil {
			return err
		}
		failed, err := c.store.CountJobsFinishedSince(gctx, userID, []models.JobStatus{models.JobFailed, models.JobDead}, windowStart)
		if err != nil {
			return err
		}
		if completed+failed > 0 {
			m.ErrorRate = float64(failed) / float64(completed+failed)
		}
		m.JobsPerMinute = float64(completed) / c.window.Minutes()
		return nil
	})

	g.Go(func() error {
		n, err := c.store.CountUnresolvedDeadLetters(gctx, userID)
		if err != nil {
			return err
		}
		m.DeadLetterCount = n
		return nil
	})

	g.Go(func() error {
		tokens, err := c.store.SumMissionTokensSince(gctx, userID, windowStart)
		if err != nil {
			return err
		}
		m.TokensPerMinute = float64(tokens) / c.window.Minutes()
		return nil
	})

	g.Go(func() error {
		credits, err := c.store.SumMissionCostSince(gctx, userID, hourStart)
		if err != nil {
			return err
		}
		m.CostPerHour = float64(credits)
		return nil
	})

	g.Go(func() error {
		avg, err := c.store.AvgJobDurationSince(gctx, userID, hourStart)
		if err != nil {
			return err
		}
		m.AvgJobDurationMS = avg
		return nil
	})

	g.Go(func() error {
		fired, resolved, err := c.store.CountFiringsSince(gctx, userID, windowStart)
		if err != nil {
			return err
		}
		m.AlertsFiring = fired
		m.AlertsResolved = resolved
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.HealthScore, m.HealthStatus = healthFor(m)
	return m, nil
}

// healthFor scores the view: penalties for error rate, queue backlog,
// failed jobs and an empty agent registry, clamped to [0, 100].
func healthFor(m *models.SystemMetrics) (float64, models.HealthStatus) {
	score := 100.0
	score -= 50 * m.ErrorRate

	switch {
	case m.QueueDepth > 100:
		score -= 10
	case m.QueueDepth > 50:
		score -= 5
	}

	switch {
	case m.FailedJobs > 10:
		score -= 10
	case m.FailedJobs > 5:
		score -= 5
	}

	if m.RegisteredAgents == 0 {
		score -= 20
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score >= 80:
		return score, models.HealthHealthy
	case score >= 50:
		return score, models.HealthDegraded
	default:
		return score, models.HealthUnhealthy
	}
}
