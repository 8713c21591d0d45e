package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file looked up inside the config directory.
const ConfigFileName = "gpilot.yaml"

// gpilotYAMLConfig mirrors the complete gpilot.yaml file structure. Every
// section is optional; absent sections fall back to built-in defaults.
type gpilotYAMLConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Database  *DatabaseConfig  `yaml:"database"`
	Queue     *QueueConfig     `yaml:"queue"`
	Mission   *MissionConfig   `yaml:"mission"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
	Alerts    *AlertsConfig    `yaml:"alerts"`
	Webhooks  *WebhookConfig   `yaml:"webhooks"`
	Slack     *SlackYAMLConfig `yaml:"slack"`
	Retention *RetentionConfig `yaml:"retention"`
}

// SlackYAMLConfig holds Slack notification settings from YAML. Enabled is a
// pointer so "absent" and "false" stay distinguishable during resolution.
type SlackYAMLConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	TokenEnv     string `yaml:"token_env,omitempty"`
	Channel      string `yaml:"channel,omitempty"`
	DashboardURL string `yaml:"dashboard_url,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load gpilot.yaml from configDir (missing file is fine)
//  3. Expand environment variables in the YAML
//  4. Merge YAML on top of the defaults
//  5. Apply environment variable overrides
//  6. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"db_driver_hint", driverHint(cfg.Database.URL),
		"addr", cfg.Server.Addr,
		"queue_concurrency", cfg.Queue.DefaultConcurrency,
		"dag_parallelism_cap", cfg.Mission.ParallelismCap)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	cfg := &Config{
		configDir: configDir,
		Server:    defaultServerConfig(),
		Database:  defaultDatabaseConfig(),
		Queue:     DefaultQueueConfig(),
		Mission:   DefaultMissionConfig(),
		Metrics:   DefaultMetricsConfig(),
		Alerts:    DefaultAlertsConfig(),
		Webhooks:  DefaultWebhookConfig(),
		Slack:     defaultSlackConfig(),
		Retention: DefaultRetentionConfig(),
	}

	yamlCfg, err := loadGpilotYAML(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}
	if yamlCfg == nil {
		return cfg, nil
	}

	// Merge each present section into the defaults; non-zero YAML values
	// override, unset ones keep the default.
	if err := mergeSection(cfg.Server, yamlCfg.Server); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Database, yamlCfg.Database); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Queue, yamlCfg.Queue); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Mission, yamlCfg.Mission); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Metrics, yamlCfg.Metrics); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Alerts, yamlCfg.Alerts); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Webhooks, yamlCfg.Webhooks); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Retention, yamlCfg.Retention); err != nil {
		return nil, err
	}

	resolveSlackConfig(cfg.Slack, yamlCfg.Slack)

	return cfg, nil
}

// mergeSection folds a YAML section into its defaults; nil sections keep
// the defaults untouched.
func mergeSection[T any](dst, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config section: %w", err)
	}
	return nil
}

// loadGpilotYAML reads and parses gpilot.yaml. Returns (nil, nil) when the
// file does not exist so defaults-only startup works without a config dir.
func loadGpilotYAML(configDir string) (*gpilotYAMLConfig, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No config file found, using defaults", "path", path)
			return nil, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	var config gpilotYAMLConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &config, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

func defaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:              "gpilot.db",
		EncryptionKeyEnv: "GPILOT_ENCRYPTION_KEY",
	}
}

func defaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}
}

// resolveSlackConfig folds YAML Slack settings into the defaults.
func resolveSlackConfig(cfg *SlackConfig, y *SlackYAMLConfig) {
	if y == nil {
		return
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.TokenEnv != "" {
		cfg.TokenEnv = y.TokenEnv
	}
	if y.Channel != "" {
		cfg.Channel = y.Channel
	}
	if y.DashboardURL != "" {
		cfg.DashboardURL = y.DashboardURL
	}
}

func driverHint(url string) string {
	if len(url) >= 8 && url[:8] == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
