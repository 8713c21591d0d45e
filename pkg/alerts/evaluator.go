// Package alerts runs the threshold alert evaluator: a periodic sweep of
// user-authored rules against live metrics that opens and resolves alert
// firings and fans notifications out to the configured channels.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// MetricsSource supplies the current aggregate view rules are evaluated
// against. The metrics collector satisfies it.
type MetricsSource interface {
	Collect(ctx context.Context, userID string) (*models.SystemMetrics, error)
}

// WalletReader supplies budget consumption for budget_usage rules. Budgets
// live outside the substrate, so the value is read through this seam.
type WalletReader interface {
	// BudgetUsage returns the user's consumed budget fraction in [0, 1].
	BudgetUsage(ctx context.Context, userID string) (float64, error)
}

// Notifier delivers one alert transition on one channel. A firing carries
// ResolvedAt nil; a resolution carries the closed episode. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) error {
	return f(ctx, rule, firing)
}

// Evaluator sweeps every active rule on a fixed interval. Each rule is a
// threshold predicate over one metric; the evaluator owns the rule's
// is_firing bit and the open/resolved lifecycle of AlertFiring episodes.
type Evaluator struct {
	store     *store.Store
	source    MetricsSource
	wallet    WalletReader
	publisher *events.Publisher
	interval  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	notifiers map[string]Notifier
	started   bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewEvaluator wires the evaluation loop. wallet and publisher may be nil;
// budget_usage rules are skipped with a warning when no wallet is wired.
func NewEvaluator(st *store.Store, source MetricsSource, wallet WalletReader, publisher *events.Publisher, cfg *config.AlertsConfig, logger *slog.Logger) *Evaluator {
	interval := cfg.EvalInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Evaluator{
		store:     st,
		source:    source,
		wallet:    wallet,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "alert_evaluator"),
		notifiers: make(map[string]Notifier),
		stopCh:    make(chan struct{}),
	}
}

// RegisterNotifier binds a channel name to its delivery implementation.
// Must be called before Start.
func (e *Evaluator) RegisterNotifier(channel string, n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers[channel] = n
}

// Start launches the evaluation loop. The first sweep runs one interval
// after start so the composition root finishes wiring notifiers first.
func (e *Evaluator) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.logger.Warn("Alert evaluator already started")
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.run(ctx)
	e.logger.Info("Alert evaluator started", "interval", e.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (e *Evaluator) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Evaluator) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluateAll(ctx)
		}
	}
}

// evaluateAll sweeps every active rule, collecting metrics once per user.
func (e *Evaluator) evaluateAll(ctx context.Context) {
	rules, err := e.store.ListActiveAlertRules(ctx)
	if err != nil {
		e.logger.Warn("Failed to list alert rules", "error", err)
		return
	}

	// Rules arrive ordered by user; reuse one metric view per run of
	// the same user.
	var (
		currentUser string
		view        *models.SystemMetrics
	)
	for i := range rules {
		rule := &rules[i]
		if view == nil || rule.UserID != currentUser {
			currentUser = rule.UserID
			view, err = e.source.Collect(ctx, currentUser)
			if err != nil {
				e.logger.Warn("Failed to collect metrics", "user_id", currentUser, "error", err)
				view = nil
				continue
			}
		}
		if err := e.evaluateRule(ctx, rule, view); err != nil {
			e.logger.Warn("Rule evaluation failed", "rule", rule.Name, "rule_id", rule.ID, "error", err)
		}
	}
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AlertRule, view *models.SystemMetrics) error {
	value, err := e.metricValue(ctx, rule, view)
	if err != nil {
		return err
	}

	shouldFire := rule.Condition.Holds(value, rule.Threshold)
	switch {
	case shouldFire && !rule.IsFiring:
		return e.fire(ctx, rule, value)
	case !shouldFire && rule.IsFiring:
		return e.resolve(ctx, rule, value)
	}
	return nil
}

func (e *Evaluator) metricValue(ctx context.Context, rule *models.AlertRule, view *models.SystemMetrics) (float64, error) {
	if rule.Metric == models.MetricBudgetUsage {
		if e.wallet == nil {
			return 0, fmt.Errorf("no wallet source wired for %s", models.MetricBudgetUsage)
		}
		usage, err := e.wallet.BudgetUsage(ctx, rule.UserID)
		if err != nil {
			return 0, fmt.Errorf("failed to read budget usage: %w", err)
		}
		return usage, nil
	}

	value, ok := view.Value(rule.Metric)
	if !ok {
		return 0, fmt.Errorf("unknown metric %q", rule.Metric)
	}
	return value, nil
}

// fire opens the episode and notifies. Losing the open race to another
// replica is not an error; that replica owns the notifications.
func (e *Evaluator) fire(ctx context.Context, rule *models.AlertRule, value float64) error {
	now := time.Now().UTC()
	firing := &models.AlertFiring{
		RuleID:      rule.ID,
		UserID:      rule.UserID,
		Metric:      rule.Metric,
		MetricValue: value,
		Message:     fmt.Sprintf("%s: %s %s %g (current %g)", rule.Name, rule.Metric, rule.Condition, rule.Threshold, value),
		TriggeredAt: now,
	}

	err := e.store.OpenAlertFiring(ctx, rule, firing)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open firing: %w", err)
	}

	e.logger.Warn("Alert firing",
		"rule", rule.Name,
		"metric", rule.Metric,
		"value", value,
		"threshold", rule.Threshold,
		"user_id", rule.UserID)

	e.publishEvent(ctx, events.EventTypeAlertTriggered, rule, firing.Message, value)
	e.notify(ctx, rule, firing)
	return nil
}

// resolve closes the episode. ErrNotFound means another replica resolved
// it between our read and write.
func (e *Evaluator) resolve(ctx context.Context, rule *models.AlertRule, value float64) error {
	now := time.Now().UTC()

	// Loaded before closing so channels can reference the episode.
	firing, err := e.store.GetOpenFiring(ctx, rule.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load open firing: %w", err)
	}

	err = e.store.ResolveAlertFiring(ctx, rule.ID, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve firing: %w", err)
	}

	e.logger.Info("Alert resolved",
		"rule", rule.Name,
		"metric", rule.Metric,
		"value", value,
		"user_id", rule.UserID)

	message := fmt.Sprintf("%s: %s back within threshold (current %g)", rule.Name, rule.Metric, value)
	e.publishEvent(ctx, events.EventTypeAlertResolved, rule, message, value)
	if firing != nil {
		firing.ResolvedAt = &now
		e.notify(ctx, rule, firing)
	}
	return nil
}

// notify fans out to every configured channel. One channel failing never
// blocks the rest. Firing successes are recorded on the episode;
// resolution notices are delivered but not re-recorded.
func (e *Evaluator) notify(ctx context.Context, rule *models.AlertRule, firing *models.AlertFiring) {
	e.mu.Lock()
	notifiers := e.notifiers
	e.mu.Unlock()

	for _, channel := range rule.Channels {
		notifier, ok := notifiers[channel]
		if !ok {
			e.logger.Warn("No notifier for channel", "channel", channel, "rule", rule.Name)
			continue
		}
		if err := notifier.Notify(ctx, rule, firing); err != nil {
			e.logger.Warn("Notification failed", "channel", channel, "rule", rule.Name, "error", err)
			continue
		}
		if firing.ResolvedAt != nil {
			continue
		}
		if err := e.store.AppendFiringNotification(ctx, firing.ID, channel); err != nil {
			e.logger.Warn("Failed to record notification", "channel", channel, "firing_id", firing.ID, "error", err)
		}
	}
}

func (e *Evaluator) publishEvent(ctx context.Context, eventType string, rule *models.AlertRule, message string, value float64) {
	if e.publisher == nil {
		return
	}
	payload := events.AlertEventPayload{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Metric:      rule.Metric,
		Condition:   string(rule.Condition),
		Threshold:   rule.Threshold,
		MetricValue: value,
		Message:     message,
	}
	var err error
	if eventType == events.EventTypeAlertTriggered {
		err = e.publisher.PublishAlertTriggered(ctx, rule.UserID, payload)
	} else {
		err = e.publisher.PublishAlertResolved(ctx, rule.UserID, payload)
	}
	if err != nil {
		e.logger.Warn("Failed to publish alert event", "event", eventType, "rule", rule.Name, "error", err)
	}
}
