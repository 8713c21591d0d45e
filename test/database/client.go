// Package database provides test helpers for opening a migrated store.
package database

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/database"
	"github.com/gpilot-io/gpilot/test/util"
)

var encryptOnce sync.Once

// NewTestClient opens a migrated test database and closes it when the
// test ends. By default it uses an in-memory SQLite store so tests run
// anywhere without infrastructure; set TEST_DATABASE_URL to a
// postgres:// URL to exercise the PostgreSQL paths (SKIP LOCKED claims,
// LISTEN/NOTIFY) against a disposable instance.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	// Encrypted columns need a key before any read or write touches them.
	encryptOnce.Do(func() {
		if err := database.InitEncryption(database.DeriveKey("test-only-key")); err != nil {
			t.Fatalf("init encryption: %v", err)
		}
	})

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = ":memory:"
	}

	client, err := database.NewClient(context.Background(), database.Config{URL: url}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewPostgresTestClient opens a migrated store in a throwaway schema on
// the shared PostgreSQL testcontainer. Use it for behavior that only
// exists on Postgres, such as concurrent SKIP LOCKED claims and
// LISTEN/NOTIFY fan-out; everything else should stay on NewTestClient.
func NewPostgresTestClient(t *testing.T) *database.Client {
	t.Helper()

	encryptOnce.Do(func() {
		if err := database.InitEncryption(database.DeriveKey("test-only-key")); err != nil {
			t.Fatalf("init encryption: %v", err)
		}
	})

	url := util.SchemaURL(t)
	client, err := database.NewClient(context.Background(), database.Config{URL: url}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
