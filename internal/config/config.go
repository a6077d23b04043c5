// Package config defines the arbsim configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBSIM_* environment variables.
type Config struct {
	Mode      string `toml:"mode"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Engine     EngineConfig     `toml:"engine"`
	Feeds      []FeedConfig     `toml:"feeds"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
}

// EngineConfig holds the detection and simulation parameters. Symbols,
// TradeSize, SimulationVolume, AutoExecute and the feed fees are copied into
// the engine settings at startup and may change through control operations
// afterwards.
type EngineConfig struct {
	Symbols               []string `toml:"symbols"`
	SymbolUniverse        []string `toml:"symbol_universe"`
	TradeSize             float64  `toml:"trade_size"`
	SimulationVolume      float64  `toml:"simulation_volume"`
	StartingBalance       float64  `toml:"starting_balance"`
	InitialBaseAllocation float64  `toml:"initial_base_allocation"`
	TransferCost          float64  `toml:"transfer_cost"`
	MinNetSpreadPct       float64  `toml:"min_net_spread_pct"`
	MinProfit             float64  `toml:"min_profit"`
	AutoExecute           bool     `toml:"auto_execute"`

	EvalInterval   duration `toml:"eval_interval"`
	Workers        int      `toml:"workers"`
	ReservationTTL duration `toml:"reservation_ttl"`
	MaxBookAge     duration `toml:"max_book_age"`
	MaxDepth       int      `toml:"max_depth"`

	LatencyModel  string   `toml:"latency_model"` // uniform | measured
	LatencyMin    duration `toml:"latency_min"`
	LatencyMax    duration `toml:"latency_max"`
	LatencyFactor float64  `toml:"latency_factor"`

	OpportunityLogSize   int      `toml:"opportunity_log_size"`
	TradeLogSize         int      `toml:"trade_log_size"`
	SpreadSeriesSize     int      `toml:"spread_series_size"`
	RebalanceMinTransfer float64  `toml:"rebalance_min_transfer"`
	PersistQueueSize     int      `toml:"persist_queue_size"`
	MirrorInterval       duration `toml:"mirror_interval"`
}

// FeedConfig describes one exchange feed.
type FeedConfig struct {
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"` // binance_ws | bybit_ws | uphold | simulated
	FeePct  float64  `toml:"fee_pct"`
	Enabled *bool    `toml:"enabled"`
	URLs    []string `toml:"urls"`

	// Simulated feed parameters.
	PriceOffset float64  `toml:"price_offset"`
	Volatility  float64  `toml:"volatility"`
	DepthLevels int      `toml:"depth_levels"`
	Interval    duration `toml:"interval"`
	Seed        uint64   `toml:"seed"`
}

// IsEnabled reports whether the feed starts enabled. Unset means enabled.
func (f FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int      `toml:"port"`
	APIKey             string   `toml:"api_key"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// PostgresConfig holds the durable log database connection. Either DSN or
// Host must be set to enable it.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr disables it.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	BookTTL    duration `toml:"book_ttl"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// S3Config holds the archive bucket parameters. An empty Bucket disables it.
type S3Config struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UseSSL       bool   `toml:"use_ssl"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// ClickHouseConfig holds the spread time series sink.
type ClickHouseConfig struct {
	DSN string `toml:"dsn"`
}

// Enabled reports whether ClickHouse is configured.
func (c ClickHouseConfig) Enabled() bool { return c.DSN != "" }

// KafkaConfig holds the event export producer parameters.
type KafkaConfig struct {
	Brokers      []string `toml:"brokers"`
	TopicPrefix  string   `toml:"topic_prefix"`
	MaxAttempts  int      `toml:"max_attempts"`
	BatchSize    int      `toml:"batch_size"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ArchiveConfig controls the cold archive job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "250ms", "3s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented default values.
// Feeds are filled in by Load when the file configures none.
func Defaults() Config {
	return Config{
		Mode:      "full",
		LogLevel:  "info",
		LogFormat: "json",
		Engine: EngineConfig{
			Symbols:               []string{"BTCUSDT"},
			SymbolUniverse:        []string{"BTCUSDT", "ETHUSDT", "ADAUSDT", "BNBUSDT", "SOLUSDT", "BTCETH", "ETHBTC"},
			TradeSize:             0.05,
			StartingBalance:       10000,
			InitialBaseAllocation: 0.5,
			TransferCost:          1.0,
			MinProfit:             0.01,
			AutoExecute:           true,
			EvalInterval:          duration{250 * time.Millisecond},
			Workers:               4,
			ReservationTTL:        duration{3 * time.Second},
			MaxBookAge:            duration{5 * time.Second},
			MaxDepth:              20,
			LatencyModel:          "uniform",
			LatencyMin:            duration{20 * time.Millisecond},
			LatencyMax:            duration{250 * time.Millisecond},
			LatencyFactor:         1.0,
			OpportunityLogSize:    600,
			TradeLogSize:          300,
			SpreadSeriesSize:      600,
			RebalanceMinTransfer:  1.0,
			PersistQueueSize:      5000,
			MirrorInterval:        duration{time.Second},
		},
		Server: ServerConfig{
			Port:               8080,
			RateLimitPerMinute: 600,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			BookTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Kafka: KafkaConfig{
			TopicPrefix:  "arbsim",
			MaxAttempts:  3,
			BatchSize:    100,
			BatchTimeout: duration{200 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
	}
}

// DefaultFeeds are used when the configuration names no feed: two
// simulated exchanges offset from each other so spreads appear offline.
func DefaultFeeds() []FeedConfig {
	return []FeedConfig{
		{Name: "sim_a", Kind: "simulated", FeePct: 0.15, PriceOffset: 220, Volatility: 3.5},
		{Name: "sim_b", Kind: "simulated", FeePct: 0.12, PriceOffset: -220, Volatility: 3.0},
	}
}

var (
	validModes      = map[string]bool{"full": true, "headless": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validFeedKinds  = map[string]bool{"binance_ws": true, "bybit_ws": true, "uphold": true, "simulated": true}
	validLatency    = map[string]bool{"uniform": true, "measured": true}
)

// Validate checks Config for invalid or missing values and returns one
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: full, headless)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		add("unknown log_format %q (valid: json, text)", c.LogFormat)
	}

	e := c.Engine
	if len(e.Symbols) == 0 {
		add("engine: symbols must not be empty")
	}
	if len(e.SymbolUniverse) > 0 {
		universe := make(map[string]bool, len(e.SymbolUniverse))
		for _, s := range e.SymbolUniverse {
			universe[strings.ToUpper(strings.TrimSpace(s))] = true
		}
		for _, s := range e.Symbols {
			if !universe[strings.ToUpper(strings.TrimSpace(s))] {
				add("engine: symbol %q is not in symbol_universe", s)
			}
		}
	}
	if e.TradeSize <= 0 {
		add("engine: trade_size must be > 0")
	}
	if e.SimulationVolume < 0 {
		add("engine: simulation_volume must be >= 0")
	}
	if e.StartingBalance <= 0 {
		add("engine: starting_balance must be > 0")
	}
	if e.InitialBaseAllocation < 0 || e.InitialBaseAllocation > 1 {
		add("engine: initial_base_allocation must be within [0, 1]")
	}
	if e.TransferCost < 0 {
		add("engine: transfer_cost must be >= 0")
	}
	if e.MinProfit < 0 {
		add("engine: min_profit must be >= 0")
	}
	if e.EvalInterval.Duration <= 0 {
		add("engine: eval_interval must be positive")
	}
	if e.Workers < 1 {
		add("engine: workers must be >= 1")
	}
	if e.ReservationTTL.Duration <= 0 {
		add("engine: reservation_ttl must be positive")
	}
	if e.MaxBookAge.Duration < 0 {
		add("engine: max_book_age must be >= 0")
	}
	if !validLatency[strings.ToLower(e.LatencyModel)] {
		add("engine: unknown latency_model %q (valid: uniform, measured)", e.LatencyModel)
	}
	if e.LatencyMin.Duration < 0 || e.LatencyMax.Duration < e.LatencyMin.Duration {
		add("engine: latency_min must be >= 0 and <= latency_max")
	}
	if e.LatencyMax.Duration >= e.ReservationTTL.Duration {
		add("engine: latency_max (%s) must be below reservation_ttl (%s)", e.LatencyMax.Duration, e.ReservationTTL.Duration)
	}
	if e.LatencyFactor <= 0 {
		add("engine: latency_factor must be > 0")
	}
	if e.PersistQueueSize < 1 {
		add("engine: persist_queue_size must be >= 1")
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		switch {
		case name == "":
			add("feeds[%d]: name must not be empty", i)
		case seen[name]:
			add("feeds[%d]: duplicate name %q", i, f.Name)
		}
		seen[name] = true
		if !validFeedKinds[f.Kind] {
			add("feeds[%d]: unknown kind %q (valid: binance_ws, bybit_ws, uphold, simulated)", i, f.Kind)
		}
		if f.FeePct < 0 || f.FeePct >= 100 {
			add("feeds[%d]: fee_pct must be within [0, 100)", i)
		}
	}
	if len(c.Feeds) < 2 {
		add("feeds: at least two exchanges are required")
	}

	if strings.ToLower(c.Mode) == "full" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server: rate_limit_per_minute must be >= 0")
	}

	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}
	if c.S3.Enabled() && c.S3.Region == "" {
		add("s3: region must not be empty")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled() || !c.Postgres.Enabled() {
			add("archive: requires both s3 and postgres to be configured")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be positive")
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
