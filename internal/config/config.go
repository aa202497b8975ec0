// Package config defines the top-level configuration for the back-office
// orchestrator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by environment variables. The variables
// fixed by the deployment contract (DB_*, API_BASE_URL, ENCRYPTION_KEY, ...)
// take precedence over the file.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Upstream   UpstreamConfig   `toml:"upstream"`
	Session    SessionConfig    `toml:"session"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Server     ServerConfig     `toml:"server"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`

	// EncryptionKey protects stored user passwords. Required; startup fails
	// without it.
	EncryptionKey string `toml:"encryption_key"`
	LogLevel      string `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Name         string `toml:"name"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// UpstreamConfig holds the brokerage API endpoint and retry parameters.
type UpstreamConfig struct {
	BaseURL        string `toml:"base_url"`
	BrokerID       string `toml:"broker_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// SessionConfig holds session pool parameters.
type SessionConfig struct {
	// RefreshIntervalMinutes is the period of the token refresh job.
	RefreshIntervalMinutes int `toml:"refresh_interval_minutes"`
	// MaxRetryAttempts bounds login retries on upstream auth failure.
	MaxRetryAttempts int `toml:"max_retry_attempts"`
}

// SupervisorConfig holds the position auto-close policy.
type SupervisorConfig struct {
	IntervalSeconds   int     `toml:"interval_seconds"`
	MaxHoldingSeconds int     `toml:"max_holding_seconds"`
	ProfitTarget      float64 `toml:"profit_target"`
	LossCutoff        float64 `toml:"loss_cutoff"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// RedisConfig holds Redis connection parameters. Redis backs the HTTP rate
// limiter and the durable event mirror; both are skipped when disabled.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the archive job.
type S3Config struct {
	Enabled          bool   `toml:"enabled"`
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	ArchiveAfterDays int    `toml:"archive_after_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Name:         "backoffice",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Session: SessionConfig{
			RefreshIntervalMinutes: 10,
			MaxRetryAttempts:       3,
		},
		Supervisor: SupervisorConfig{
			IntervalSeconds:   5,
			MaxHoldingSeconds: 300,
			ProfitTarget:      100,
			LossCutoff:        -50,
		},
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 60,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "backoffice-archive",
			ForcePathStyle:   true,
			ArchiveAfterDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"order_failed", "position_closed", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.EncryptionKey) == "" {
		errs = append(errs, "encryption_key must be set (ENCRYPTION_KEY)")
	}

	// Database
	if c.Database.Host == "" {
		errs = append(errs, "database: host must not be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.Name == "" {
		errs = append(errs, "database: name must not be empty")
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Upstream
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream: base_url must not be empty (API_BASE_URL)")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		errs = append(errs, "upstream: timeout_seconds must be > 0")
	}
	if c.Upstream.MaxRetries < 1 {
		errs = append(errs, "upstream: max_retries must be >= 1")
	}

	// Session
	if c.Session.RefreshIntervalMinutes < 1 {
		errs = append(errs, "session: refresh_interval_minutes must be >= 1")
	}
	if c.Session.MaxRetryAttempts < 1 {
		errs = append(errs, "session: max_retry_attempts must be >= 1")
	}

	// Supervisor
	if c.Supervisor.IntervalSeconds <= 0 {
		errs = append(errs, "supervisor: interval_seconds must be > 0")
	}
	if c.Supervisor.MaxHoldingSeconds <= 0 {
		errs = append(errs, "supervisor: max_holding_seconds must be > 0")
	}
	if c.Supervisor.LossCutoff >= 0 {
		errs = append(errs, "supervisor: loss_cutoff must be negative")
	}
	if c.Supervisor.ProfitTarget <= 0 {
		errs = append(errs, "supervisor: profit_target must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveAfterDays < 1 {
			errs = append(errs, "s3: archive_after_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
