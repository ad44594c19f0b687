package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
	"pricewatch/internal/provider"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig                  `mapstructure:"app"`
	Logging   logging.Config             `mapstructure:"logging"`
	Database  DatabaseConfig             `mapstructure:"database"`
	Redis     RedisConfig                `mapstructure:"redis"`
	Scheduler SchedulerConfig            `mapstructure:"scheduler"`
	Alerts    AlertsConfig               `mapstructure:"alerts"`
	History   HistoryConfig              `mapstructure:"history"`
	Providers map[string]provider.Config `mapstructure:"providers"`
	Notify    NotifyConfig               `mapstructure:"notify"`
	Metrics   MetricsConfig              `mapstructure:"metrics"`
	Export    ExportConfig               `mapstructure:"export"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig points at the price history buffer.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs the tracking cadence.
type SchedulerConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// AlertsConfig holds alert defaults.
type AlertsConfig struct {
	DefaultExpiry time.Duration `mapstructure:"default_expiry"`
}

// HistoryConfig selects the rolling price history backend.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	Length  int    `mapstructure:"length"`
}

// NotifyConfig defines notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EmailConfig describes SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// MetricsConfig exposes the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// History backends.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)

	v.SetDefault("scheduler.schedule", "0 */6 * * *")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.concurrency", 4)

	v.SetDefault("alerts.default_expiry", "720h")

	v.SetDefault("history.backend", HistoryMemory)
	v.SetDefault("history.length", 90)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pricewatch:history:")

	setProviderDefaults(v, "amadeus", provider.AmadeusBaseURL, 10, "1s", "30s")
	setProviderDefaults(v, "booking", provider.BookingBaseURL, 5, "1s", "45s")
	setProviderDefaults(v, "skyscanner", "", 5, "1m", "30s")
	setProviderDefaults(v, "expedia", "", 5, "1m", "30s")
	setProviderDefaults(v, "static", "", 0, "0s", "30s")
	v.SetDefault("providers.static.fixed_price", "0")
	v.SetDefault("providers.static.currency", "USD")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

// setProviderDefaults registers every provider key so env overrides resolve.
func setProviderDefaults(v *viper.Viper, name, baseURL string, requests int, window, timeout string) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"enabled", false)
	v.SetDefault(prefix+"base_url", baseURL)
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"user_agent", "")
	v.SetDefault(prefix+"requests", requests)
	v.SetDefault(prefix+"window", window)
	v.SetDefault(prefix+"timeout", timeout)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

// decimalHook decodes prices. Quote them in YAML to keep every digit; bare
// YAML floats are taken at their shortest printed form.
func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return decimal.Zero, nil
			}
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
			}
			return d, nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
		return fmt.Errorf("scheduler.schedule is invalid: %w", err)
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be greater than zero")
	}
	if c.Alerts.DefaultExpiry <= 0 {
		return fmt.Errorf("alerts.default_expiry must be greater than zero")
	}
	if c.History.Length <= 0 {
		return fmt.Errorf("history.length must be greater than zero")
	}
	switch c.History.Backend {
	case HistoryMemory:
	case HistoryRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis history backend")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", c.History.Backend)
	}
	for _, name := range c.ProviderNames() {
		p := c.Providers[name]
		if !p.Enabled {
			continue
		}
		if p.Requests < 0 || p.Window < 0 {
			return fmt.Errorf("providers.%s rate limit cannot be negative", name)
		}
		if p.Requests > 0 && p.Window == 0 {
			return fmt.Errorf("providers.%s.window is required when requests is set", name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("providers.%s.timeout cannot be negative", name)
		}
	}
	if c.Notify.Telegram.Enabled && c.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" {
			return fmt.Errorf("notify.email.host is required when email is enabled")
		}
		if c.Notify.Email.From == "" {
			return fmt.Errorf("notify.email.from is required when email is enabled")
		}
	}
	return nil
}

// ProviderNames lists configured provider ids in stable order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
