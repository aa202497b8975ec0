package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (if it exists), merges it on
// top of the built-in defaults, applies environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set (i.e. not empty). The
// DB_* / API_BASE_URL / ENCRYPTION_KEY names are fixed by the deployment
// contract; the BACKOFFICE_* names cover the rest.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setStr(&cfg.Database.Name, "DB_NAME")
	setStr(&cfg.Database.User, "DB_USER")
	setStr(&cfg.Database.Password, "DB_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BACKOFFICE_DB_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "BACKOFFICE_DB_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BACKOFFICE_DB_POOL_MIN_CONNS")

	// ── Upstream ──
	setStr(&cfg.Upstream.BaseURL, "API_BASE_URL")
	setStr(&cfg.Upstream.BrokerID, "MATCH_TRADE_BROKER_ID")
	setInt(&cfg.Upstream.TimeoutSeconds, "BACKOFFICE_UPSTREAM_TIMEOUT_SECONDS")
	setInt(&cfg.Upstream.MaxRetries, "BACKOFFICE_UPSTREAM_MAX_RETRIES")

	// ── Session ──
	setInt(&cfg.Session.RefreshIntervalMinutes, "SESSION_REFRESH_INTERVAL_MINUTES")
	setInt(&cfg.Session.MaxRetryAttempts, "SESSION_MAX_RETRY_ATTEMPTS")

	// ── Supervisor ──
	setInt(&cfg.Supervisor.IntervalSeconds, "BACKOFFICE_SUPERVISOR_INTERVAL_SECONDS")
	setInt(&cfg.Supervisor.MaxHoldingSeconds, "BACKOFFICE_SUPERVISOR_MAX_HOLDING_SECONDS")
	setFloat64(&cfg.Supervisor.ProfitTarget, "BACKOFFICE_SUPERVISOR_PROFIT_TARGET")
	setFloat64(&cfg.Supervisor.LossCutoff, "BACKOFFICE_SUPERVISOR_LOSS_CUTOFF")

	// ── Server ──
	setInt(&cfg.Server.Port, "BACKOFFICE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "BACKOFFICE_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BACKOFFICE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BACKOFFICE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BACKOFFICE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BACKOFFICE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BACKOFFICE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BACKOFFICE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BACKOFFICE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "BACKOFFICE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BACKOFFICE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BACKOFFICE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BACKOFFICE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BACKOFFICE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BACKOFFICE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BACKOFFICE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BACKOFFICE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BACKOFFICE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDays, "BACKOFFICE_S3_ARCHIVE_AFTER_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BACKOFFICE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BACKOFFICE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BACKOFFICE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BACKOFFICE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.EncryptionKey, "ENCRYPTION_KEY")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
