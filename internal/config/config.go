// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Source   SourceConfig      `mapstructure:"source"`
	Crawler  CrawlerConfig     `mapstructure:"crawler"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Headless HeadlessConfig    `mapstructure:"headless"`
	Redis    RedisConfig       `mapstructure:"redis"`
	TMDB     TMDBConfig        `mapstructure:"tmdb"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Hints    map[string]string `mapstructure:"hints"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig points at the forum being harvested.
type SourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// CrawlerConfig governs pool sizing and schedule cadence.
type CrawlerConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	QueueDepth           int `mapstructure:"queue_depth"`
	DiscoverIntervalMin  int `mapstructure:"discover_interval_minutes"`
	RevisitIntervalMin   int `mapstructure:"revisit_interval_minutes"`
	ReconcileIntervalMin int `mapstructure:"reconcile_interval_minutes"`
	StalenessHours       int `mapstructure:"staleness_hours"`
	MaxPages             int `mapstructure:"max_pages"`
}

// HTTPConfig configures fetch timeout and provider retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// RedisConfig controls the key-value store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TMDBConfig holds primary provider credentials.
type TMDBConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7000)
	v.SetDefault("source.user_agent", "streamharvest/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 200)
	v.SetDefault("crawler.discover_interval_minutes", 30)
	v.SetDefault("crawler.revisit_interval_minutes", 360)
	v.SetDefault("crawler.reconcile_interval_minutes", 60)
	v.SetDefault("crawler.staleness_hours", 72)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.TMDB.APIKey == "" {
		return fmt.Errorf("tmdb.api_key must be set")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the initial provider retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the provider retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
