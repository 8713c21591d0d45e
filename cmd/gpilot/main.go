// gpilot server — durable job queues, DAG mission execution, metric
// snapshots, alert evaluation, and signed webhook fan-out behind one
// HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gpilot-io/gpilot/pkg/agent"
	"github.com/gpilot-io/gpilot/pkg/alerts"
	"github.com/gpilot-io/gpilot/pkg/api"
	"github.com/gpilot-io/gpilot/pkg/cleanup"
	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/pkg/events"
	"github.com/gpilot-io/gpilot/pkg/metrics"
	"github.com/gpilot-io/gpilot/pkg/mission"
	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/queue"
	"github.com/gpilot-io/gpilot/pkg/schedule"
	"github.com/gpilot-io/gpilot/pkg/slack"
	"github.com/gpilot-io/gpilot/pkg/store"
	"github.com/gpilot-io/gpilot/pkg/version"
	"github.com/gpilot-io/gpilot/pkg/webhook"
)

// Process exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
	exitAuth   = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "gpilot",
		Short:         "gpilot orchestrator server",
		Long:          "gpilot runs the operations substrate: queue workers, the DAG\nmission executor, the metrics snapshotter, the alert evaluator, the\nwebhook dispatcher, and the HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configDir)
		},
	}

	root.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"directory holding gpilot.yaml and .env")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd(&configDir))
	return root
}

// newMigrateCmd applies pending schema migrations and exits, for
// deployments that migrate as a separate step before rolling the server.
func newMigrateCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(filepath.Join(*configDir, ".env")); err == nil {
				slog.Info("Loaded environment", "path", filepath.Join(*configDir, ".env"))
			}
			cfg, err := config.Initialize(cmd.Context(), *configDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			client, err := database.NewClient(cmd.Context(), database.Config{URL: cfg.Database.URL}, slog.Default())
			if err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			slog.Info("Migrations applied", "driver", client.Driver())
			return client.Close()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println("gpilot " + version.Full())
		},
	}
}

// exitCodeFor maps a startup failure onto the documented exit codes:
// configuration problems exit 2, authentication rejections exit 3,
// everything else exits 1.
func exitCodeFor(err error) int {
	var validation *config.ValidationError
	var load *config.LoadError
	if errors.As(err, &validation) || errors.As(err, &load) ||
		errors.Is(err, config.ErrValidationFailed) || errors.Is(err, config.ErrInvalidYAML) {
		return exitConfig
	}

	// invalid_password / invalid_authorization_specification from the
	// database rule out everything downstream.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "28P01" || pgErr.Code == "28000") {
		return exitAuth
	}
	return exitError
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveProcessID determines the worker identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local"
func resolveProcessID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func run(ctx context.Context, configDir string) error {
	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	processID := resolveProcessID()
	slog.Info("Starting gpilot",
		"version", version.Full(),
		"process_id", processID,
		"config_dir", configDir)

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if key := os.Getenv(cfg.Database.EncryptionKeyEnv); key != "" {
		if err := database.InitEncryption(database.DeriveKey(key)); err != nil {
			return fmt.Errorf("failed to initialize encryption: %w", err)
		}
	} else {
		slog.Warn("No encryption key set; webhook secrets will be stored unencrypted",
			"env", cfg.Database.EncryptionKeyEnv)
	}

	logger := slog.Default()

	dbClient, err := database.NewClient(ctx, database.Config{URL: cfg.Database.URL}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "driver", dbClient.Driver())

	st := store.New(dbClient, logger)

	// Event plumbing. On Postgres the publisher goes through pg_notify and
	// the listener bridges notifications back into the local hub; on
	// SQLite there is one process and the hub is fed directly.
	hub := events.NewHub(10 * time.Second)
	var publisher *events.Publisher
	if dbClient.IsPostgres() {
		publisher = events.NewPublisher(hub, dbClient.SQLDB())
		listener := events.NewNotifyListener(cfg.Database.URL, hub)
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notify listener: %w", err)
		}
		defer listener.Stop(ctx)
		hub.SetListener(listener)
	} else {
		publisher = events.NewPublisher(hub, nil)
	}

	// Queue manager and the agent execution layer.
	manager := queue.NewManager(processID, st, cfg.Queue, publisher, queue.NewMetrics(prometheus.DefaultRegisterer))

	agentRegistry := agent.NewRegistry()
	executor := agent.NewExecutor(agentRegistry, st, publisher, logger)

	missionService := mission.NewService(st, manager, executor, publisher, cfg.Mission, logger)
	if err := missionService.Register(); err != nil {
		return fmt.Errorf("failed to register mission handler: %w", err)
	}

	// Webhook fan-out. The dispatcher doubles as the publisher's durable
	// sink so every domain event gets exactly one at-least-once dispatch
	// point, independent of the lossy WebSocket path.
	dispatcher := webhook.NewDispatcher(st, manager, publisher, cfg.Webhooks, logger)
	if err := dispatcher.Register(); err != nil {
		return fmt.Errorf("failed to register webhook handler: %w", err)
	}
	publisher.SetDurableSink(dispatcher)
	webhookService := webhook.NewService(st, cfg.Webhooks, logger)

	// Metrics collection and the minute snapshotter.
	collector := metrics.NewCollector(st, manager, agentRegistry, cfg.Metrics.CollectorWindow, logger)
	snapshotter := metrics.NewSnapshotter(collector, st, publisher,
		metrics.NewGauges(prometheus.DefaultRegisterer), cfg.Metrics.SnapshotInterval, logger)
	snapshotter.Start(ctx)
	defer snapshotter.Stop()

	// Alert evaluation. Budgets live outside the substrate; without a
	// wallet integration budget_usage rules are skipped with a warning.
	alertService := alerts.NewService(st, logger)
	evaluator := alerts.NewEvaluator(st, collector, nil, publisher, cfg.Alerts, logger)
	evaluator.RegisterNotifier(models.ChannelWebhook, alerts.NotifierFunc(dispatcher.NotifyAlert))
	if cfg.Slack.Enabled {
		slackService := slack.NewService(slack.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.Slack.DashboardURL,
		})
		if slackService != nil {
			evaluator.RegisterNotifier(models.ChannelSlack, slackService)
			slog.Info("Slack notification channel registered", "channel", cfg.Slack.Channel)
		} else {
			slog.Warn("Slack enabled but token or channel missing; channel not registered")
		}
	}
	evaluator.Start(ctx)
	defer evaluator.Stop()

	// Recurring missions.
	scheduler, err := schedule.NewScheduler(st, missionService, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduleService := schedule.NewService(st, missionService, scheduler, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Retention enforcement.
	cleanupService := cleanup.NewService(cfg.Retention, st)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// Workers last: handlers for every queue are registered by now.
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	server := api.NewServer(cfg.Server, dbClient, st, manager, missionService,
		alertService, webhookService, scheduleService, collector, hub)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("gpilot started",
		"process_id", processID,
		"agents", len(agentRegistry.Names()),
		"queues", len(manager.Queues()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop producers before the workers: no new timer-driven missions,
	// then drain in-flight jobs within the grace period. Waiting jobs
	// stay durable for the next process.
	if err := scheduler.Stop(); err != nil {
		slog.Error("Scheduler shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Queue manager stopped gracefully")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout + 5*time.Second):
		slog.Warn("Queue shutdown timeout exceeded — incomplete jobs will be orphan-recovered")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
