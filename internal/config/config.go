// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Review    ReviewConfig    `yaml:"review"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Hub       HubConfig       `yaml:"hub"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	LogFile   string          `yaml:"log_file"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
}

// DatabaseConfig selects and configures the review record store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file path
}

// AuthConfig holds the credentials checked at the ingress boundary.
type AuthConfig struct {
	InternalSecret     string `yaml:"internal_secret"`
	OperatorSigningKey string `yaml:"operator_signing_key"`
}

// ReviewConfig controls the review worker pool and reconciler.
type ReviewConfig struct {
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	StaleAfterSec int    `yaml:"stale_after_sec"`
	MaxAttempts   int    `yaml:"max_attempts"`
	ReconcileCron string `yaml:"reconcile_cron"`
	BatchLimit    int    `yaml:"batch_limit"`
}

// AnthropicConfig configures the AI reviewer.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// WebhooksConfig holds defaults for outbound webhook delivery. Per-subscription
// values override them.
type WebhooksConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	Retries    int `yaml:"retries"`
	BackoffMs  int `yaml:"backoff_ms"`
}

// HubConfig selects the notification hub backend.
type HubConfig struct {
	Backend         string `yaml:"backend"` // "memory" or "relay"
	KeepaliveSec    int    `yaml:"keepalive_sec"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	RetentionMin    int    `yaml:"retention_min"`
	SinkBuffer      int    `yaml:"sink_buffer"`
}

// AlertsConfig configures operator chat alerts.
type AlertsConfig struct {
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	OnFailure         bool   `yaml:"on_failure"`
	OnFindings        bool   `yaml:"on_findings"`
}

// Environment variables that override secrets from the YAML file.
const (
	EnvInternalSecret = "SWITCHBOARD_INTERNAL_SECRET"
	EnvOperatorKey    = "SWITCHBOARD_OPERATOR_KEY"
	EnvDBPassword     = "SWITCHBOARD_DB_PASSWORD"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are applied before validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv replaces secrets with environment values when set.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvInternalSecret); ok && v != "" {
		c.Auth.InternalSecret = v
	}
	if v, ok := os.LookupEnv(EnvOperatorKey); ok && v != "" {
		c.Auth.OperatorSigningKey = v
	}
	if v, ok := os.LookupEnv(EnvDBPassword); ok && v != "" {
		c.Database.Password = v
	}
	if v, ok := os.LookupEnv(EnvAnthropicKey); ok && v != "" {
		c.Anthropic.APIKey = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GinMode == "" {
		c.Server.GinMode = "release"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
	}

	if c.Review.Workers == 0 {
		c.Review.Workers = 4
	}
	if c.Review.QueueSize == 0 {
		c.Review.QueueSize = 256
	}
	if c.Review.TimeoutSec == 0 {
		c.Review.TimeoutSec = 120
	}
	if c.Review.StaleAfterSec == 0 {
		c.Review.StaleAfterSec = 3 * c.Review.TimeoutSec
	}
	if c.Review.MaxAttempts == 0 {
		c.Review.MaxAttempts = 3
	}
	if c.Review.ReconcileCron == "" {
		c.Review.ReconcileCron = "*/5 * * * *"
	}
	if c.Review.BatchLimit == 0 {
		c.Review.BatchLimit = 200
	}

	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-5"
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 2048
	}

	if c.Webhooks.TimeoutSec == 0 {
		c.Webhooks.TimeoutSec = 10
	}
	if c.Webhooks.BackoffMs == 0 {
		c.Webhooks.BackoffMs = 1000
	}

	if c.Hub.Backend == "" {
		c.Hub.Backend = "memory"
	}
	if c.Hub.KeepaliveSec == 0 {
		c.Hub.KeepaliveSec = 30
	}
	if c.Hub.PollIntervalSec == 0 {
		c.Hub.PollIntervalSec = 2
	}
	if c.Hub.RetentionMin == 0 {
		c.Hub.RetentionMin = 60
	}
	if c.Hub.SinkBuffer == 0 {
		c.Hub.SinkBuffer = 16
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	switch c.Hub.Backend {
	case "memory", "relay":
	default:
		errs = append(errs, fmt.Sprintf("hub.backend %q must be memory or relay", c.Hub.Backend))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Review.Workers < 0 {
		errs = append(errs, "review.workers must not be negative")
	}
	if c.Review.StaleAfterSec <= c.Review.TimeoutSec {
		errs = append(errs, "review.stale_after_sec must be greater than review.timeout_sec")
	}
	if c.Webhooks.Retries < 0 {
		errs = append(errs, "webhooks.retries must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ReviewTimeout returns the per-call reviewer deadline.
func (c *Config) ReviewTimeout() time.Duration {
	return time.Duration(c.Review.TimeoutSec) * time.Second
}

// StaleAfter returns the age after which a processing record is reclaimed.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Review.StaleAfterSec) * time.Second
}

// Keepalive returns the SSE keepalive interval.
func (c *Config) Keepalive() time.Duration {
	return time.Duration(c.Hub.KeepaliveSec) * time.Second
}
