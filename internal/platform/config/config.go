package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	APIReadPerMinute  int    `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int    `mapstructure:"api_write_per_minute"`
	EventsPerMinute   int    `mapstructure:"events_per_minute"`
	RedisURL          string `mapstructure:"redis_url"`
}

type WebhooksConfig struct {
	Timeout        time.Duration      `mapstructure:"timeout"`
	MaxConcurrency int                `mapstructure:"max_concurrency"`
	SecretKey      string             `mapstructure:"secret_key"`
	UserAgent      string             `mapstructure:"user_agent"`
	DefaultRetry   DefaultRetryConfig `mapstructure:"default_retry"`
}

type DefaultRetryConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxAttempts      int  `mapstructure:"max_attempts"`
	BaseDelaySeconds int  `mapstructure:"base_delay_seconds"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type WorkersConfig struct {
	StatsSchedule   string `mapstructure:"stats_schedule"`
	FailingSchedule string `mapstructure:"failing_schedule"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/coursehub.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("rate_limit.api_read_per_minute", 1000)
	v.SetDefault("rate_limit.api_write_per_minute", 100)
	v.SetDefault("rate_limit.events_per_minute", 6000)
	v.SetDefault("rate_limit.redis_url", "")

	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.max_concurrency", 0)
	v.SetDefault("webhooks.user_agent", "Coursehub-Webhooks/1.0")
	v.SetDefault("webhooks.default_retry.enabled", true)
	v.SetDefault("webhooks.default_retry.max_attempts", 3)
	v.SetDefault("webhooks.default_retry.base_delay_seconds", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("workers.stats_schedule", "@every 1m")
	v.SetDefault("workers.failing_schedule", "0 * * * *")
	v.SetDefault("workers.metrics_addr", ":9091")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if _, err := c.Webhooks.SecretKeyBytes(); err != nil {
		return err
	}
	if c.Webhooks.Timeout <= 0 {
		return errors.New("webhooks.timeout must be positive")
	}
	if c.Webhooks.MaxConcurrency < 0 {
		return errors.New("webhooks.max_concurrency must not be negative")
	}
	if r := c.Webhooks.DefaultRetry; r.MaxAttempts < 0 || r.MaxAttempts > 10 || r.BaseDelaySeconds < 1 {
		return errors.New("webhooks.default_retry needs max_attempts in 0..10 and base_delay_seconds >= 1")
	}
	return nil
}

// SecretKeyBytes decodes the hex key used to seal signing secrets at rest.
func (c WebhooksConfig) SecretKeyBytes() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(c.SecretKey)
	if err != nil {
		return key, fmt.Errorf("webhooks.secret_key must be hex: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("webhooks.secret_key must be %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Watch re-reads the config file on change and hands the logging section to
// onLogging. Only logging is hot reloadable; everything else needs a restart.
func Watch(path string, onLogging func(LoggingConfig)) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg LoggingConfig
		if err := v.UnmarshalKey("logging", &cfg); err != nil {
			return
		}
		onLogging(cfg)
	})
	v.WatchConfig()
}
