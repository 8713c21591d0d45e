// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/gpilot-io/gpilot/pkg/config"
	"github.com/gpilot-io/gpilot/pkg/store"
)

// Service periodically enforces retention policies:
//   - Deletes metric snapshots and webhook deliveries past their windows
//   - Deletes completed and dead jobs past the job TTL
//   - Deletes resolved dead letters and alert firings past the job TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st *store.Store) *Service {
	return &Service{
		config: cfg,
		store:  st,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"snapshot_retention_days", s.config.SnapshotRetentionDays,
		"delivery_retention_days", s.config.DeliveryRetentionDays,
		"job_retention_days", s.config.JobRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneSnapshots(ctx)
	s.pruneDeliveries(ctx)
	s.pruneJobs(ctx)
	s.pruneDeadLetters(ctx)
	s.pruneFirings(ctx)
}

func (s *Service) pruneSnapshots(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.SnapshotRetentionDays)
	count, err := s.store.DeleteSnapshotsBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: snapshot cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old metric snapshots", "count", count)
	}
}

func (s *Service) pruneDeliveries(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.DeliveryRetentionDays)
	count, err := s.store.DeleteDeliveriesBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: delivery cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old webhook deliveries", "count", count)
	}
}

func (s *Service) pruneJobs(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.JobRetentionDays)
	count, err := s.store.DeleteTerminalJobsBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old terminal jobs", "count", count)
	}
}

func (s *Service) pruneDeadLetters(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.JobRetentionDays)
	count, err := s.store.DeleteResolvedDeadLettersBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: dead letter cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted resolved dead letters", "count", count)
	}
}

func (s *Service) pruneFirings(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.JobRetentionDays)
	count, err := s.store.DeleteResolvedFiringsBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: alert firing cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted resolved alert firings", "count", count)
	}
}
