package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stockwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Index     IndexConfig     `mapstructure:"index"`
	Events    EventsConfig    `mapstructure:"events"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the streaming loop cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig lists tracked symbols and the exchange session.
type MarketConfig struct {
	Symbols     []string `mapstructure:"symbols"`
	Timezone    string   `mapstructure:"timezone"`
	CalendarMIC string   `mapstructure:"calendar_mic"`
	UseCalendar bool     `mapstructure:"use_calendar"`
}

// ProviderConfig captures quote provider connectivity and rate limits.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKeys           []string      `mapstructure:"api_keys"`
	Interval          string        `mapstructure:"interval"`
	OutputSize        int           `mapstructure:"output_size"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	SymbolDelay       time.Duration `mapstructure:"symbol_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// SyntheticConfig parameterises the fallback price generator.
type SyntheticConfig struct {
	Seed                uint64  `mapstructure:"seed"`
	Volatility          float64 `mapstructure:"volatility"`
	Trend               float64 `mapstructure:"trend"`
	JumpProbability     float64 `mapstructure:"jump_probability"`
	BulkJumpProbability float64 `mapstructure:"bulk_jump_probability"`
}

// AnalyticsConfig sets the rolling window.
type AnalyticsConfig struct {
	Window int `mapstructure:"window"`
}

// IndexConfig configures the similarity index.
type IndexConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Mode           string        `mapstructure:"mode"`
	Path           string        `mapstructure:"path"`
	Embedder       string        `mapstructure:"embedder"`
	EmbeddingURL   string        `mapstructure:"embedding_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	EmbeddingKey   string        `mapstructure:"embedding_key"`
	Dimension      int           `mapstructure:"dimension"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EventsConfig routes engine events. An empty RedisAddr logs events only.
type EventsConfig struct {
	RedisAddr          string `mapstructure:"redis_addr"`
	RedisPassword      string `mapstructure:"redis_password"`
	RedisDB            int    `mapstructure:"redis_db"`
	RedisChannelPrefix string `mapstructure:"redis_channel_prefix"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/stocks.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73746f63))

	v.SetDefault("market.symbols", []string{"NVDA", "AAPL", "MSFT", "GOOGL"})
	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.calendar_mic", "xnys")
	v.SetDefault("market.use_calendar", true)

	v.SetDefault("provider.base_url", "https://api.twelvedata.com")
	v.SetDefault("provider.api_keys", []string{})
	v.SetDefault("provider.interval", "1min")
	v.SetDefault("provider.output_size", 1)
	v.SetDefault("provider.requests_per_minute", 8)
	v.SetDefault("provider.cooldown", "60s")
	v.SetDefault("provider.symbol_delay", "10s")
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.retry_delay", "1s")
	v.SetDefault("provider.backoff_factor", 2.0)
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "stockwatcher/1.0")

	v.SetDefault("synthetic.seed", 0)
	v.SetDefault("synthetic.volatility", 0.005)
	v.SetDefault("synthetic.trend", 0.0005)
	v.SetDefault("synthetic.jump_probability", 0.10)
	v.SetDefault("synthetic.bulk_jump_probability", 0.05)

	v.SetDefault("analytics.window", 5)

	v.SetDefault("index.enabled", true)
	v.SetDefault("index.mode", "rebuild")
	v.SetDefault("index.path", "data/index.parquet")
	v.SetDefault("index.embedder", "hash")
	v.SetDefault("index.dimension", 384)
	v.SetDefault("index.request_timeout", "30s")

	v.SetDefault("events.redis_channel_prefix", "stockwatcher")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must not be empty")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Provider.RequestsPerMinute <= 0 {
		return fmt.Errorf("provider.requests_per_minute must be greater than zero")
	}
	if c.Provider.MaxRetries <= 0 {
		return fmt.Errorf("provider.max_retries must be greater than zero")
	}
	if c.Provider.BackoffFactor < 1 {
		return fmt.Errorf("provider.backoff_factor must be at least 1")
	}
	if c.Synthetic.Volatility < 0 || c.Synthetic.JumpProbability < 0 || c.Synthetic.JumpProbability > 1 ||
		c.Synthetic.BulkJumpProbability < 0 || c.Synthetic.BulkJumpProbability > 1 {
		return fmt.Errorf("synthetic parameters out of range")
	}
	if c.Analytics.Window <= 0 {
		return fmt.Errorf("analytics.window must be greater than zero")
	}
	if c.Index.Enabled {
		switch c.Index.Mode {
		case "rebuild", "append":
		default:
			return fmt.Errorf("index.mode must be rebuild or append, got %q", c.Index.Mode)
		}
		switch c.Index.Embedder {
		case "hash":
		case "http":
			if c.Index.EmbeddingURL == "" {
				return fmt.Errorf("index.embedding_url is required for the http embedder")
			}
		default:
			return fmt.Errorf("index.embedder must be hash or http, got %q", c.Index.Embedder)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
