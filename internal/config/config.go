package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"farewatch/internal/anomaly"
	"farewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Anomaly   AnomalyConfig   `mapstructure:"anomaly"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ScraperConfig covers the fare search API client.
type ScraperConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Passengers     int           `mapstructure:"passengers"`
	CabinClass     string        `mapstructure:"cabin_class"`
	DaysAhead      int           `mapstructure:"days_ahead"`
	TripLengthDays int           `mapstructure:"trip_length_days"`
}

// AnomalyConfig tunes the scoring and classification thresholds.
type AnomalyConfig struct {
	MinSampleSize    int     `mapstructure:"min_sample_size"`
	ZThreshold       float64 `mapstructure:"z_threshold"`
	ConfidenceFloor  float64 `mapstructure:"confidence_floor"`
	ConfidenceCurveK float64 `mapstructure:"confidence_curve_k"`
	Direction        string  `mapstructure:"direction"`
	HistoryWindow    int     `mapstructure:"history_window"`
}

// AlertingConfig defines alert routing and cadence limits.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
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
	v.SetEnvPrefix("FAREWATCH")
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
	v.SetDefault("app.name", "farewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66617265))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("scraper.request_timeout", "30s")
	v.SetDefault("scraper.user_agent", "farewatch/1.0")
	v.SetDefault("scraper.passengers", 1)
	v.SetDefault("scraper.cabin_class", "economy")
	v.SetDefault("scraper.days_ahead", 30)
	v.SetDefault("scraper.trip_length_days", 7)

	v.SetDefault("anomaly.min_sample_size", 5)
	v.SetDefault("anomaly.z_threshold", 2.0)
	v.SetDefault("anomaly.confidence_floor", 0.3)
	v.SetDefault("anomaly.confidence_curve_k", 4.0)
	v.SetDefault("anomaly.direction", "drop_only")
	v.SetDefault("anomaly.history_window", 30)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Anomaly.MinSampleSize <= 0 {
		return fmt.Errorf("anomaly.min_sample_size must be greater than zero")
	}
	if c.Anomaly.ZThreshold < 0 {
		return fmt.Errorf("anomaly.z_threshold cannot be negative")
	}
	if c.Anomaly.ConfidenceFloor < 0 || c.Anomaly.ConfidenceFloor > 1 {
		return fmt.Errorf("anomaly.confidence_floor must be within [0,1]")
	}
	if c.Anomaly.ConfidenceCurveK <= 0 {
		return fmt.Errorf("anomaly.confidence_curve_k must be greater than zero")
	}
	if c.Anomaly.HistoryWindow < c.Anomaly.MinSampleSize {
		return fmt.Errorf("anomaly.history_window cannot be smaller than anomaly.min_sample_size")
	}
	if _, err := anomaly.ParseDirectionPolicy(c.Anomaly.Direction); err != nil {
		return fmt.Errorf("anomaly.direction: %w", err)
	}
	if c.Scraper.Passengers <= 0 {
		return fmt.Errorf("scraper.passengers must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// AnomalyOptions converts the configured thresholds into scorer options.
func (c *Config) AnomalyOptions() anomaly.Options {
	opts := anomaly.DefaultOptions()
	opts.MinSampleSize = c.Anomaly.MinSampleSize
	opts.ZThreshold = decimal.NewFromFloat(c.Anomaly.ZThreshold)
	opts.ConfidenceFloor = decimal.NewFromFloat(c.Anomaly.ConfidenceFloor)
	opts.ConfidenceCurveK = decimal.NewFromFloat(c.Anomaly.ConfidenceCurveK)
	if policy, err := anomaly.ParseDirectionPolicy(c.Anomaly.Direction); err == nil {
		opts.Direction = policy
	}
	return opts
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
