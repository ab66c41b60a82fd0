// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacmap/stac-crawler/internal/seed"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Crawl        CrawlConfig        `mapstructure:"crawl"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Seed         SeedConfig         `mapstructure:"seed"`
	DB           DBConfig           `mapstructure:"db"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the health/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs the crawl engine.
type CrawlConfig struct {
	Mode                 string `mapstructure:"mode"`
	MaxCatalogs          int    `mapstructure:"max_catalogs"`
	MaxAPIs              int    `mapstructure:"max_apis"`
	MaxDepth             int    `mapstructure:"max_depth"`
	ParallelDomains      int    `mapstructure:"parallel_domains"`
	ConcurrencyPerDomain int    `mapstructure:"concurrency_per_domain"`
	FlushThreshold       int    `mapstructure:"flush_threshold"`
	ProgressIntervalSec  int    `mapstructure:"progress_interval_seconds"`
}

// HTTPConfig configures the fetch client and per-domain politeness.
// The timeout is in milliseconds and the domain delay in whole seconds,
// matching the units the CLI flags take.
type HTTPConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutMillis      int    `mapstructure:"timeout_ms"`
	MaxRetries         int    `mapstructure:"max_retries"`
	RequestsPerMinute  int    `mapstructure:"requests_per_minute"`
	DomainDelaySeconds int    `mapstructure:"domain_delay_seconds"`
	MaxBodyMegabytes   int    `mapstructure:"max_body_megabytes"`
}

// AvailabilityConfig configures the pre-persistence URL probes.
type AvailabilityConfig struct {
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	MaxRetries      int `mapstructure:"max_retries"`
	RetryBackoffSec int `mapstructure:"retry_backoff_seconds"`
	Concurrency     int `mapstructure:"concurrency"`
}

// QueueConfig bounds the durable work-queue interaction.
type QueueConfig struct {
	LowWatermark   int `mapstructure:"low_watermark"`
	ClaimBatch     int `mapstructure:"claim_batch"`
	PendingCeiling int `mapstructure:"pending_ceiling"`
}

// SchedulerConfig sets crawl cadence.
type SchedulerConfig struct {
	IntervalHours   int  `mapstructure:"interval_hours"`
	ErrorRetryHours int  `mapstructure:"error_retry_hours"`
	Once            bool `mapstructure:"once"`
}

// SeedConfig locates the catalog-listing feed.
type SeedConfig struct {
	FeedURL string `mapstructure:"feed_url"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	StaleWindowDays int    `mapstructure:"stale_window_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional config file, environment
// variables prefixed STACCRAWLER, and command-line flags, in ascending
// precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STACCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
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

// bindFlags layers explicitly set command-line flags over everything else.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"crawl.mode":                   "mode",
		"crawl.max_catalogs":           "max-catalogs",
		"crawl.max_apis":               "max-apis",
		"crawl.max_depth":              "max-depth",
		"crawl.parallel_domains":       "parallel-domains",
		"crawl.concurrency_per_domain": "concurrency-per-domain",
		"http.timeout_ms":              "timeout",
		"http.max_retries":             "max-retries",
		"http.requests_per_minute":     "rpm-per-domain",
		"http.domain_delay_seconds":    "domain-delay",
		"scheduler.once":               "once",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.mode", string(seed.ModeBoth))
	v.SetDefault("crawl.max_catalogs", 0)
	v.SetDefault("crawl.max_apis", 0)
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.parallel_domains", 5)
	v.SetDefault("crawl.concurrency_per_domain", 20)
	v.SetDefault("crawl.flush_threshold", 25)
	v.SetDefault("crawl.progress_interval_seconds", 30)
	v.SetDefault("http.user_agent", "stac-crawler/1.0 (+https://github.com/stacmap/stac-crawler)")
	v.SetDefault("http.timeout_ms", 30000)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.requests_per_minute", 0)
	v.SetDefault("http.domain_delay_seconds", 0)
	v.SetDefault("http.max_body_megabytes", 32)
	v.SetDefault("availability.timeout_seconds", 5)
	v.SetDefault("availability.max_retries", 1)
	v.SetDefault("availability.retry_backoff_seconds", 2)
	v.SetDefault("availability.concurrency", 15)
	v.SetDefault("queue.low_watermark", 100)
	v.SetDefault("queue.claim_batch", 900)
	v.SetDefault("queue.pending_ceiling", 1000)
	v.SetDefault("scheduler.interval_hours", 72)
	v.SetDefault("scheduler.error_retry_hours", 2)
	v.SetDefault("scheduler.once", false)
	v.SetDefault("seed.feed_url", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.stale_window_days", 7)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !seed.Mode(c.Crawl.Mode).Valid() {
		return fmt.Errorf("crawl.mode must be one of catalogs, apis, both; got %q", c.Crawl.Mode)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.MaxCatalogs < 0 || c.Crawl.MaxAPIs < 0 {
		return fmt.Errorf("crawl seed caps must be >= 0")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.ParallelDomains <= 0 {
		return fmt.Errorf("crawl.parallel_domains must be > 0")
	}
	if c.Crawl.ConcurrencyPerDomain <= 0 {
		return fmt.Errorf("crawl.concurrency_per_domain must be > 0")
	}
	if c.HTTP.TimeoutMillis <= 0 {
		return fmt.Errorf("http.timeout_ms must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerMinute < 0 {
		return fmt.Errorf("http.requests_per_minute must be >= 0")
	}
	if c.HTTP.DomainDelaySeconds < 0 {
		return fmt.Errorf("http.domain_delay_seconds must be >= 0")
	}
	if c.Queue.LowWatermark >= c.Queue.PendingCeiling {
		return fmt.Errorf("queue.low_watermark must be below queue.pending_ceiling")
	}
	if c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.interval_hours must be > 0")
	}
	if c.Seed.FeedURL == "" {
		return fmt.Errorf("seed.feed_url is required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutMillis) * time.Millisecond
}

// DomainDelay converts the per-domain minimum delay into a duration.
func (c Config) DomainDelay() time.Duration {
	return time.Duration(c.HTTP.DomainDelaySeconds) * time.Second
}

// CrawlInterval converts the scheduler cadence into a duration.
func (c Config) CrawlInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalHours) * time.Hour
}

// ErrorRetry converts the failed-cycle retry delay into a duration.
func (c Config) ErrorRetry() time.Duration {
	return time.Duration(c.Scheduler.ErrorRetryHours) * time.Hour
}

// StaleWindow converts the deactivation window into a duration.
func (c Config) StaleWindow() time.Duration {
	return time.Duration(c.DB.StaleWindowDays) * 24 * time.Hour
}
