// Package config loads and validates gpilot configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// gpilot.yaml file (environment-expanded, merged on top of the defaults),
// and finally environment variable overrides. Initialize returns a Config
// only after the merged result passes validation.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// passed to every component at startup.
type Config struct {
	configDir string

	Server    *ServerConfig
	Database  *DatabaseConfig
	Queue     *QueueConfig
	Mission   *MissionConfig
	Metrics   *MetricsConfig
	Alerts    *AlertsConfig
	Webhooks  *WebhookConfig
	Slack     *SlackConfig
	Retention *RetentionConfig
}

// ConfigDir returns the directory gpilot.yaml was loaded from, empty when
// running on pure defaults.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address for the API server.
	Addr string `yaml:"addr"`

	// AllowedWSOrigins are additional Origin patterns accepted by the
	// WebSocket endpoint besides the server's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds persistence settings. URL selects the driver:
// postgres:// or postgresql:// prefixes mean Postgres, anything else is
// treated as a SQLite DSN.
type DatabaseConfig struct {
	URL string `yaml:"url"`

	// EncryptionKeyEnv names the env var holding the 32-byte key (base64 or
	// raw) used to encrypt webhook secrets at rest.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
}

// SlackConfig holds Slack notification settings for the alert channel.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`

	// DashboardURL is the base URL linked from notification messages.
	DashboardURL string `yaml:"dashboard_url"`
}
