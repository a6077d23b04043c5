package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of the built-in defaults, loads a
// .env file when present, applies ARBSIM_* environment overrides, and
// returns the result. An empty path skips the file. The returned Config has
// NOT been validated; the caller should invoke Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds()
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ARBSIM_* variable is set and
// non-empty. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "ARBSIM_ENGINE_SYMBOLS")
	setFloat64(&cfg.Engine.TradeSize, "ARBSIM_ENGINE_TRADE_SIZE")
	setFloat64(&cfg.Engine.SimulationVolume, "ARBSIM_ENGINE_SIMULATION_VOLUME")
	setFloat64(&cfg.Engine.StartingBalance, "ARBSIM_ENGINE_STARTING_BALANCE")
	setFloat64(&cfg.Engine.TransferCost, "ARBSIM_ENGINE_TRANSFER_COST")
	setFloat64(&cfg.Engine.MinProfit, "ARBSIM_ENGINE_MIN_PROFIT")
	setBool(&cfg.Engine.AutoExecute, "ARBSIM_ENGINE_AUTO_EXECUTE")
	setDuration(&cfg.Engine.EvalInterval, "ARBSIM_ENGINE_EVAL_INTERVAL")
	setInt(&cfg.Engine.Workers, "ARBSIM_ENGINE_WORKERS")
	setDuration(&cfg.Engine.ReservationTTL, "ARBSIM_ENGINE_RESERVATION_TTL")
	setStr(&cfg.Engine.LatencyModel, "ARBSIM_ENGINE_LATENCY_MODEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "ARBSIM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBSIM_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBSIM_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "ARBSIM_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBSIM_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UsePathStyle, "ARBSIM_S3_USE_PATH_STYLE")

	// ── ClickHouse / Kafka ──
	setStr(&cfg.ClickHouse.DSN, "ARBSIM_CLICKHOUSE_DSN")
	setStringSlice(&cfg.Kafka.Brokers, "ARBSIM_KAFKA_BROKERS")
	setStr(&cfg.Kafka.TopicPrefix, "ARBSIM_KAFKA_TOPIC_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBSIM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARBSIM_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ARBSIM_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBSIM_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "ARBSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBSIM_MODE")
	setStr(&cfg.LogLevel, "ARBSIM_LOG_LEVEL")
	setStr(&cfg.LogFormat, "ARBSIM_LOG_FORMAT")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
