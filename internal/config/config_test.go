package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func validBase() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Crawl: CrawlConfig{
			Mode:                 "both",
			ParallelDomains:      5,
			ConcurrencyPerDomain: 20,
		},
		HTTP:      HTTPConfig{TimeoutMillis: 30000},
		Queue:     QueueConfig{LowWatermark: 100, PendingCeiling: 1000},
		Scheduler: SchedulerConfig{IntervalHours: 72},
		Seed:      SeedConfig{FeedURL: "https://feed.example.com/catalogs"},
		DB:        DBConfig{DSN: "postgres://localhost/stac"},
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawl:
  mode: apis
  max_apis: 3
  max_depth: 4
  parallel_domains: 8
http:
  timeout_ms: 45000
  requests_per_minute: 60
  domain_delay_seconds: 2
scheduler:
  interval_hours: 24
seed:
  feed_url: https://feed.example.com/catalogs
db:
  dsn: postgres://localhost/stac
  stale_window_days: 14
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawl.Mode != "apis" || cfg.Crawl.MaxAPIs != 3 || cfg.Crawl.MaxDepth != 4 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Crawl.ConcurrencyPerDomain != 20 {
		t.Fatalf("expected default concurrency to survive, got %d", cfg.Crawl.ConcurrencyPerDomain)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.DomainDelay(); got != 2*time.Second {
		t.Fatalf("expected domain delay 2s, got %v", got)
	}
	if got := cfg.CrawlInterval(); got != 24*time.Hour {
		t.Fatalf("expected crawl interval 24h, got %v", got)
	}
	if got := cfg.StaleWindow(); got != 14*24*time.Hour {
		t.Fatalf("expected stale window 14d, got %v", got)
	}
}

func TestLoadAppliesExplicitFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  mode: catalogs
  max_depth: 9
seed:
  feed_url: https://feed.example.com/catalogs
db:
  dsn: postgres://localhost/stac
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("mode", "m", "both", "")
	flags.IntP("max-depth", "d", 0, "")
	flags.IntP("max-catalogs", "c", 0, "")
	if err := flags.Parse([]string{"--mode=apis", "--max-catalogs=7"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawl.Mode != "apis" {
		t.Fatalf("explicit flag must beat the file, got mode %q", cfg.Crawl.Mode)
	}
	if cfg.Crawl.MaxCatalogs != 7 {
		t.Fatalf("expected max catalogs 7, got %d", cfg.Crawl.MaxCatalogs)
	}
	if cfg.Crawl.MaxDepth != 9 {
		t.Fatalf("unset flag must not mask the file value, got depth %d", cfg.Crawl.MaxDepth)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid mode",
			mutate: func(c *Config) { c.Crawl.Mode = "everything" },
			want:   "crawl.mode",
		},
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "negative seed cap",
			mutate: func(c *Config) { c.Crawl.MaxCatalogs = -1 },
			want:   "seed caps",
		},
		{
			name:   "negative depth",
			mutate: func(c *Config) { c.Crawl.MaxDepth = -2 },
			want:   "crawl.max_depth",
		},
		{
			name:   "zero parallel domains",
			mutate: func(c *Config) { c.Crawl.ParallelDomains = 0 },
			want:   "crawl.parallel_domains",
		},
		{
			name:   "invalid timeout",
			mutate: func(c *Config) { c.HTTP.TimeoutMillis = 0 },
			want:   "http.timeout_ms",
		},
		{
			name:   "negative domain delay",
			mutate: func(c *Config) { c.HTTP.DomainDelaySeconds = -1 },
			want:   "http.domain_delay_seconds",
		},
		{
			name:   "watermark above ceiling",
			mutate: func(c *Config) { c.Queue.LowWatermark = 2000 },
			want:   "queue.low_watermark",
		},
		{
			name:   "missing feed url",
			mutate: func(c *Config) { c.Seed.FeedURL = "" },
			want:   "seed.feed_url",
		},
		{
			name:   "missing dsn",
			mutate: func(c *Config) { c.DB.DSN = "" },
			want:   "db.dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigValidAcceptsBase(t *testing.T) {
	t.Parallel()

	if err := validBase().Validate(); err != nil {
		t.Fatalf("expected valid base config, got %v", err)
	}
}
