package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fraudgate/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig tunes the optional prior-flag lookup cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	FlagTTL  time.Duration `mapstructure:"flag_ttl"`
}

// AdvisorConfig covers the Gemini risk adjudicator.
type AdvisorConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Models          []string      `mapstructure:"models"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
}

// AuthConfig defines request authentication, including the demo bypass.
// The bypass is injected here so business logic never reads ambient env.
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	DummyEnabled bool   `mapstructure:"dummy_enabled"`
	DummyUserID  string `mapstructure:"dummy_user_id"`
	DummyEmail   string `mapstructure:"dummy_email"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRAUDGATE")
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
	v.SetDefault("app.name", "fraudgate")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.flag_ttl", "10m")

	v.SetDefault("advisor.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("advisor.models", []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-exp",
		"gemini-1.5-flash-latest",
		"gemini-1.5-flash-8b",
	})
	v.SetDefault("advisor.request_timeout", "8s")
	v.SetDefault("advisor.temperature", 0.3)
	v.SetDefault("advisor.max_output_tokens", 300)

	v.SetDefault("auth.dummy_enabled", false)
	v.SetDefault("auth.dummy_user_id", "demo-user-0001")
	v.SetDefault("auth.dummy_email", "demo@fraudgate.local")
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
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Advisor.RequestTimeout <= 0 {
		return fmt.Errorf("advisor.request_timeout must be greater than zero")
	}
	if c.Advisor.APIKey != "" && len(c.Advisor.Models) == 0 {
		return fmt.Errorf("advisor.models must list at least one model")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be configured when redis.enabled")
	}
	if c.Auth.DummyEnabled && c.Auth.DummyUserID == "" {
		return fmt.Errorf("auth.dummy_user_id must be configured when auth.dummy_enabled")
	}
	return nil
}
