// Package store is the persistence gateway: the only seam between in-memory
// logic and durable state. It exposes typed operations over the entities in
// pkg/models and never leaks driver-level objects. Multi-record writes run
// in transactions; partial failure rolls back.
package store

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/gpilot-io/gpilot/pkg/database"
)

// Store is the gateway façade. All durable state is mutated through it.
type Store struct {
	client *database.Client
	logger *slog.Logger
}

// New creates a gateway over an open database client.
func New(client *database.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		logger: logger.With("component", "store"),
	}
}

// Client exposes the underlying database client for health checks.
func (s *Store) Client() *database.Client { return s.client }

// db returns a context-bound gorm handle.
func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.client.WithContext(ctx)
}

// supportsSkipLocked reports whether the backend can take row locks with
// SKIP LOCKED. SQLite runs a single writer connection instead, which makes
// the claim transaction exclusive by construction.
func (s *Store) supportsSkipLocked() bool {
	return s.client.IsPostgres()
}

// translateError maps driver errors onto gateway sentinels.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyExists
	default:
		return err
	}
}
