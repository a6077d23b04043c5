package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbsim/internal/blob/s3"
	membus "github.com/alanyoungcy/arbsim/internal/cache/memory"
	"github.com/alanyoungcy/arbsim/internal/cache/redis"
	"github.com/alanyoungcy/arbsim/internal/config"
	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/notify"
	"github.com/alanyoungcy/arbsim/internal/observability"
	"github.com/alanyoungcy/arbsim/internal/server/handler"
	"github.com/alanyoungcy/arbsim/internal/store/clickhouse"
	"github.com/alanyoungcy/arbsim/internal/store/postgres"
	"github.com/alanyoungcy/arbsim/internal/stream/kafka"
)

// Dependencies bundles the backends the modes need. Every backend is
// optional; nil fields mean the section was not configured.
type Dependencies struct {
	// Durable stores (postgres)
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Audit         domain.AuditStore

	// Time series and export
	Spreads domain.SpreadStore
	Events  domain.EventSink

	// Coordination (redis, or in-process fallbacks)
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	BookMirror  domain.BookMirror

	// Cold storage
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *observability.Metrics
	Health   map[string]handler.HealthCheck
}

// Wire constructs the configured backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: observability.NewMetrics(),
		Health:  make(map[string]handler.HealthCheck),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping
		logger.Info("postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			BookTTL:    cfg.Redis.BookTTL.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.BookMirror = redis.NewBookMirror(redisClient)
		deps.Health["redis"] = redisClient.Ping
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		deps.SignalBus = membus.NewSignalBus()
		deps.LockManager = membus.NewLockManager()
	}

	// --- ClickHouse ---
	if cfg.ClickHouse.Enabled() {
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fail(fmt.Errorf("wire: clickhouse: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })

		spreads := clickhouse.NewSpreadStore(conn)
		if err := spreads.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("wire: clickhouse schema: %w", err))
		}
		deps.Spreads = spreads
		deps.Health["clickhouse"] = conn.Ping
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			TopicPrefix:  cfg.Kafka.TopicPrefix,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = producer.Close() })
		deps.Events = producer
	}

	// --- S3 archive ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health

		if cfg.Archive.Enabled && deps.Opportunities != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.Opportunities,
				deps.Trades,
				deps.Audit,
				logger,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
