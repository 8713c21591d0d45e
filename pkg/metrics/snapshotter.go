package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// activeUserLookback bounds which users get snapshot rows: anyone with
// job activity inside it.
const activeUserLookback = 24 * time.Hour

// Snapshotter persists one MetricSnapshot per (minute, user) on a
// ticker aligned to the snapshot interval. Last write wins; transient
// failures are logged and skipped, never fatal.
type Snapshotter struct {
	collector *Collector
	store     *store.Store
	publisher *events.Publisher
	gauges    *Gauges
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSnapshotter wires the snapshot loop. publisher and gauges may be
// nil.
func NewSnapshotter(collector *Collector, st *store.Store, publisher *events.Publisher, gauges *Gauges, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{
		collector: collector,
		store:     st,
		publisher: publisher,
		gauges:    gauges,
		interval:  interval,
		logger:    logger.With("component", "snapshotter"),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the snapshot loop.
func (s *Snapshotter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn("Snapshotter already started")
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Snapshotter started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Snapshotter) run(ctx context.Context) {
	defer s.wg.Done()

	// First pass lands on an interval boundary so minute buckets line
	// up with wall-clock minutes.
	next := time.Until(time.Now().Truncate(s.interval).Add(s.interval))
	select {
	case <-time.After(next):
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}
	s.snapshotAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotAll(ctx)
		}
	}
}

func (s *Snapshotter) snapshotAll(ctx context.Context) {
	users, err := s.store.ActiveUsersSince(ctx, time.Now().UTC().Add(-activeUserLookback))
	if err != nil {
		s.logger.Warn("Failed to list active users", "error", err)
		return
	}

	for _, userID := range users {
		if err := s.snapshotUser(ctx, userID); err != nil {
			s.logger.Warn("Failed to snapshot user", "user_id", userID, "error", err)
		}
	}
}

func (s *Snapshotter) snapshotUser(ctx context.Context, userID string) error {
	m, err := s.collector.Collect(ctx, userID)
	if err != nil {
		return err
	}

	bucket := m.CollectedAt.Truncate(time.Minute)
	err = s.store.UpsertMetricSnapshot(ctx, &models.MetricSnapshot{
		Bucket:          bucket,
		UserID:          userID,
		QueueDepth:      m.QueueDepth,
		ActiveJobs:      m.ActiveJobs,
		FailedJobs:      m.FailedJobs,
		CompletedJobs:   m.CompletedJobs,
		ActiveAgents:    m.ActiveAgents,
		IdleAgents:      m.IdleAgents,
		JobsPerMinute:   m.JobsPerMinute,
		CostPerHour:     m.CostPerHour,
		TokensPerMinute: m.TokensPerMinute,
		ErrorRate:       m.ErrorRate,
		HealthScore:     m.HealthScore,
	})
	if err != nil {
		return err
	}

	if s.gauges != nil {
		s.gauges.Observe(m)
	}
	if s.publisher != nil {
		err := s.publisher.PublishMetricSnapshot(ctx, userID, events.MetricSnapshotPayload{
			Bucket:       bucket.Format(time.RFC3339),
			QueueDepth:   m.QueueDepth,
			ActiveJobs:   m.ActiveJobs,
			ErrorRate:    m.ErrorRate,
			HealthScore:  m.HealthScore,
			HealthStatus: string(m.HealthStatus),
		})
		if err != nil {
			s.logger.Warn("Failed to publish snapshot event", "user_id", userID, "error", err)
		}
	}
	return nil
}
