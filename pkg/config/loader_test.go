package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultsOnly(t *testing.T) {
	ctx := context.Background()
	cfg, err := Initialize(ctx, t.TempDir())

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "gpilot.db", cfg.Database.URL)
	assert.Equal(t, 5, cfg.Queue.DefaultConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Queue.PollIntervalJitter)
	assert.Equal(t, 5*time.Minute, cfg.Queue.JobTimeout)
	assert.Equal(t, 8, cfg.Mission.ParallelismCap)
	assert.Equal(t, 1*time.Minute, cfg.Metrics.SnapshotInterval)
	assert.Equal(t, 1*time.Minute, cfg.Alerts.EvalInterval)
	assert.Equal(t, 10*time.Second, cfg.Webhooks.Timeout)
	assert.Equal(t, 5, cfg.Webhooks.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Webhooks.SignatureTolerance)
	assert.Equal(t, 30, cfg.Retention.SnapshotRetentionDays)
	assert.False(t, cfg.Slack.Enabled)
}

func TestInitializeYAMLOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	content := `
server:
  addr: ":9090"
queue:
  default_concurrency: 3
  poll_interval: 250ms
webhooks:
  max_attempts: 7
slack:
  enabled: true
  channel: C12345678
`
	err := os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Queue.DefaultConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	// Unset values keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Queue.JobTimeout)
	assert.Equal(t, 7, cfg.Webhooks.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Webhooks.Timeout)
	assert.True(t, cfg.Slack.Enabled)
	assert.Equal(t, "C12345678", cfg.Slack.Channel)
	assert.Equal(t, "SLACK_BOT_TOKEN", cfg.Slack.TokenEnv)
}

func TestInitializeEnvOverridesYAML(t *testing.T) {
	configDir := t.TempDir()
	content := `
queue:
  default_concurrency: 3
`
	err := os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv(EnvQueueConcurrency, "11")
	t.Setenv(EnvQueuePollIntervalMS, "1000")
	t.Setenv(EnvDAGParallelismCap, "4")
	t.Setenv(EnvWebhookTimeoutMS, "2500")
	t.Setenv(EnvHMACToleranceSeconds, "60")
	t.Setenv(EnvDBURL, "postgres://gpilot:pw@localhost:5432/gpilot")

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)

	assert.Equal(t, 11, cfg.Queue.DefaultConcurrency)
	assert.Equal(t, 1*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Queue.PollIntervalJitter)
	assert.Equal(t, 4, cfg.Mission.ParallelismCap)
	assert.Equal(t, 2500*time.Millisecond, cfg.Webhooks.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Webhooks.SignatureTolerance)
	assert.Equal(t, "postgres://gpilot:pw@localhost:5432/gpilot", cfg.Database.URL)
}

func TestInitializeUnparseableEnvIgnored(t *testing.T) {
	t.Setenv(EnvQueueConcurrency, "lots")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Queue.DefaultConcurrency)
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()
	err := os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(`queue: [`), 0644)
	require.NoError(t, err)

	_, err = Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := t.TempDir()
	content := `
queue:
  default_concurrency: -2
`
	err := os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(content), 0644)
	require.NoError(t, err)

	_, err = Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("GPILOT_TEST_HOST", "db.internal")
	t.Setenv("GPILOT_TEST_PORT", "5432")

	out := ExpandEnv([]byte("url: {{.GPILOT_TEST_HOST}}:{{.GPILOT_TEST_PORT}}"))
	assert.Equal(t, "url: db.internal:5432", string(out))

	// Literal dollar signs pass through untouched.
	out = ExpandEnv([]byte(`secret: p@ss$word`))
	assert.Equal(t, `secret: p@ss$word`, string(out))

	// Missing variables expand to empty.
	out = ExpandEnv([]byte("key: {{.GPILOT_TEST_ABSENT_VAR}}"))
	assert.Equal(t, "key: ", string(out))
}
