package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
	testdb "github.com/gpilot-io/gpilot/test/database"
)

type fakeSource struct {
	mu   sync.Mutex
	view models.SystemMetrics
}

func (f *fakeSource) set(view models.SystemMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = view
}

func (f *fakeSource) Collect(_ context.Context, userID string) (*models.SystemMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view := f.view
	view.UserID = userID
	return &view, nil
}

type fakeWallet struct {
	usage float64
}

func (f *fakeWallet) BudgetUsage(_ context.Context, _ string) (float64, error) {
	return f.usage, nil
}

func newTestEvaluator(t *testing.T, source MetricsSource, wallet WalletReader) (*Evaluator, *store.Store) {
	t.Helper()

	client := testdb.NewTestClient(t)
	st := store.New(client, slog.Default())
	cfg := &config.AlertsConfig{EvalInterval: 20 * time.Millisecond}
	return NewEvaluator(st, source, wallet, nil, cfg, slog.Default()), st
}

func seedRule(t *testing.T, st *store.Store, rule *models.AlertRule) *models.AlertRule {
	t.Helper()
	require.NoError(t, st.CreateAlertRule(context.Background(), rule))
	return rule
}

func TestEvaluatorFiresAndResolves(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	rule := seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "deep backlog",
		Metric:    models.MetricQueueDepth,
		Condition: models.ConditionGT,
		Threshold: 100,
		IsActive:  true,
	})

	source.set(models.SystemMetrics{QueueDepth: 250})
	evaluator.evaluateAll(ctx)

	reloaded, err := st.GetAlertRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsFiring)
	require.NotNil(t, reloaded.LastFiredAt)

	firing, err := st.GetOpenFiring(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", firing.UserID)
	assert.Equal(t, models.MetricQueueDepth, firing.Metric)
	assert.Equal(t, 250.0, firing.MetricValue)
	assert.Contains(t, firing.Message, "deep backlog")
	assert.Contains(t, firing.Message, "queue_depth gt 100")

	// Back under the threshold: the episode closes and the bit clears.
	source.set(models.SystemMetrics{QueueDepth: 10})
	evaluator.evaluateAll(ctx)

	reloaded, err = st.GetAlertRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsFiring)

	_, err = st.GetOpenFiring(ctx, rule.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	history, err := st.ListAlertFirings(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ResolvedAt)
}

func TestEvaluatorDoesNotRefireOpenEpisode(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "error spike",
		Metric:    models.MetricErrorRate,
		Condition: models.ConditionGTE,
		Threshold: 0.5,
		IsActive:  true,
	})

	source.set(models.SystemMetrics{ErrorRate: 0.8})
	evaluator.evaluateAll(ctx)
	evaluator.evaluateAll(ctx)
	evaluator.evaluateAll(ctx)

	history, err := st.ListAlertFirings(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEvaluatorSkipsInactiveRules(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "dormant",
		Metric:    models.MetricQueueDepth,
		Condition: models.ConditionGT,
		Threshold: 1,
		IsActive:  false,
	})

	source.set(models.SystemMetrics{QueueDepth: 500})
	evaluator.evaluateAll(ctx)

	history, err := st.ListAlertFirings(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEvaluatorNotificationChannels(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var called []string
	evaluator.RegisterNotifier(models.ChannelInApp, NotifierFunc(func(_ context.Context, _ *models.AlertRule, _ *models.AlertFiring) error {
		mu.Lock()
		defer mu.Unlock()
		called = append(called, models.ChannelInApp)
		return nil
	}))
	evaluator.RegisterNotifier(models.ChannelEmail, NotifierFunc(func(_ context.Context, _ *models.AlertRule, _ *models.AlertFiring) error {
		mu.Lock()
		defer mu.Unlock()
		called = append(called, models.ChannelEmail)
		return errors.New("smtp down")
	}))

	rule := seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "backlog",
		Metric:    models.MetricQueueDepth,
		Condition: models.ConditionGT,
		Threshold: 10,
		Channels:  models.StringList{models.ChannelInApp, models.ChannelEmail, models.ChannelSlack},
		IsActive:  true,
	})

	source.set(models.SystemMetrics{QueueDepth: 50})
	evaluator.evaluateAll(ctx)

	// Both wired channels were attempted; the failing one and the
	// unwired one are recorded on neither.
	mu.Lock()
	assert.ElementsMatch(t, []string{models.ChannelInApp, models.ChannelEmail}, called)
	mu.Unlock()

	firing, err := st.GetOpenFiring(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StringList{models.ChannelInApp}, firing.NotificationsSent)
}

func TestEvaluatorNotifiesOnResolution(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var resolvedSeen []bool
	evaluator.RegisterNotifier(models.ChannelInApp, NotifierFunc(func(_ context.Context, _ *models.AlertRule, firing *models.AlertFiring) error {
		mu.Lock()
		defer mu.Unlock()
		resolvedSeen = append(resolvedSeen, firing.ResolvedAt != nil)
		return nil
	}))

	seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "backlog",
		Metric:    models.MetricQueueDepth,
		Condition: models.ConditionGT,
		Threshold: 10,
		Channels:  models.StringList{models.ChannelInApp},
		IsActive:  true,
	})

	source.set(models.SystemMetrics{QueueDepth: 50})
	evaluator.evaluateAll(ctx)
	source.set(models.SystemMetrics{QueueDepth: 2})
	evaluator.evaluateAll(ctx)

	// One firing notice, then one resolution notice.
	mu.Lock()
	assert.Equal(t, []bool{false, true}, resolvedSeen)
	mu.Unlock()

	// Only the firing is recorded on the episode.
	history, err := st.ListAlertFirings(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StringList{models.ChannelInApp}, history[0].NotificationsSent)
}

func TestEvaluatorBudgetUsage(t *testing.T) {
	source := &fakeSource{}
	wallet := &fakeWallet{usage: 0.95}
	evaluator, st := newTestEvaluator(t, source, wallet)
	ctx := context.Background()

	rule := seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "budget nearly gone",
		Metric:    models.MetricBudgetUsage,
		Condition: models.ConditionGTE,
		Threshold: 0.9,
		IsActive:  true,
	})

	evaluator.evaluateAll(ctx)

	firing, err := st.GetOpenFiring(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.95, firing.MetricValue)

	wallet.usage = 0.2
	evaluator.evaluateAll(ctx)

	reloaded, err := st.GetAlertRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsFiring)
}

func TestEvaluatorLoop(t *testing.T) {
	source := &fakeSource{}
	evaluator, st := newTestEvaluator(t, source, nil)
	ctx := context.Background()

	rule := seedRule(t, st, &models.AlertRule{
		UserID:    "alice",
		Name:      "agents gone",
		Metric:    models.MetricActiveAgents,
		Condition: models.ConditionLTE,
		Threshold: 0,
		IsActive:  true,
	})

	source.set(models.SystemMetrics{ActiveAgents: 0})
	evaluator.Start(ctx)
	t.Cleanup(evaluator.Stop)

	require.Eventually(t, func() bool {
		reloaded, err := st.GetAlertRule(ctx, rule.ID)
		return err == nil && reloaded.IsFiring
	}, 5*time.Second, 10*time.Millisecond)
}
