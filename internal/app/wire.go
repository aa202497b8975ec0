package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/traderops/backoffice/internal/blob/s3"
	"github.com/traderops/backoffice/internal/bus"
	"github.com/traderops/backoffice/internal/cache/redis"
	"github.com/traderops/backoffice/internal/config"
	"github.com/traderops/backoffice/internal/crypto"
	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/notify"
	"github.com/traderops/backoffice/internal/orchestrator"
	"github.com/traderops/backoffice/internal/server/middleware"
	"github.com/traderops/backoffice/internal/session"
	"github.com/traderops/backoffice/internal/store/postgres"
	"github.com/traderops/backoffice/internal/supervisor"
	"github.com/traderops/backoffice/internal/upstream"
)

// Dependencies bundles everything the application needs to serve requests and
// run background jobs. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Users    domain.UserStore
	Sessions domain.SessionStore
	Orders   domain.OrderStore
	Trades   domain.TradeStore
	Signals  domain.SignalStore
	Accounts domain.AccountStore
	Syslog   domain.SystemLogStore

	// Core services
	Pool       *session.Pool
	Engine     *orchestrator.Engine
	Supervisor *supervisor.Supervisor
	Events     *bus.Bus
	Notifier   *notify.Notifier

	// Optional infrastructure (nil when disabled in config)
	RateLimiter middleware.Limiter
	Archiver    *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if err := pgClient.InitSchema(ctx, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres schema: %w", err)
	}

	pool := pgClient.Pool()
	deps.Users = postgres.NewUserStore(pool)
	deps.Sessions = postgres.NewSessionStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.Accounts = postgres.NewAccountStore(pool)
	deps.Syslog = postgres.NewSystemLogStore(pool)

	// --- Credential vault ---
	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}

	// --- Upstream brokerage client ---
	client := upstream.NewHTTPClient(cfg.Upstream.BaseURL,
		upstream.WithTimeout(time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
	)

	// --- Redis (rate limiter + durable event mirror) ---
	var busOpts []bus.Option
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		busOpts = append(busOpts, bus.WithMirror(
			redis.NewEventMirror(redisClient, int64(cfg.Redis.StreamMaxLen)),
		))
	}

	// --- Event bus ---
	deps.Events = bus.New(logger, busOpts...)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Session pool ---
	deps.Pool = session.NewPool(
		deps.Users,
		deps.Sessions,
		vault,
		client,
		cfg.Session.MaxRetryAttempts,
		logger,
	)

	// --- Fan-out engine ---
	deps.Engine = orchestrator.NewEngine(
		deps.Pool,
		client,
		deps.Orders,
		deps.Trades,
		deps.Accounts,
		deps.Signals,
		deps.Events,
		deps.Notifier,
		logger,
	)

	// --- Position supervisor ---
	deps.Supervisor = supervisor.New(
		deps.Pool,
		deps.Engine,
		client,
		deps.Orders,
		deps.Events,
		deps.Notifier,
		supervisor.Config{
			Interval:     time.Duration(cfg.Supervisor.IntervalSeconds) * time.Second,
			MaxHolding:   time.Duration(cfg.Supervisor.MaxHoldingSeconds) * time.Second,
			ProfitTarget: cfg.Supervisor.ProfitTarget,
			LossCutoff:   cfg.Supervisor.LossCutoff,
		},
		logger,
	)

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Trades,
			deps.Orders,
			deps.Signals,
			deps.Syslog,
		)
	}

	return deps, cleanup, nil
}
