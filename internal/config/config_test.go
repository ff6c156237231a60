package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
crawler:
  seeds:
    - url: https://electrek.co/
    - url: https://insideevs.com/news
      allowed_domain: insideevs.com
  max_depth: 3
  max_pages: 20
  concurrency: 4
  delay: 250ms
  request_timeout: 10s
  deny_substrings: ["utm_", " utm_ ", "/login"]
extractor:
  keywords: ["electric", "battery"]
  min_keyword_hits: 2
  min_words: 25
storage:
  provider: sqlite
  sqlite:
    path: /tmp/docs.db
search:
  max_results: 30
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if len(cfg.Crawler.Seeds) != 2 || cfg.Crawler.Seeds[1].AllowedDomain != "insideevs.com" {
		t.Fatalf("expected seeds to be loaded: %+v", cfg.Crawler.Seeds)
	}
	if cfg.Crawler.MaxDepth != 3 || cfg.Crawler.MaxPages != 20 || cfg.Crawler.Concurrency != 4 {
		t.Fatalf("expected crawler limits to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Delay != 250*time.Millisecond || cfg.Crawler.RequestTimeout != 10*time.Second {
		t.Fatalf("expected durations to decode, got delay=%v timeout=%v", cfg.Crawler.Delay, cfg.Crawler.RequestTimeout)
	}
	if len(cfg.Crawler.DenySubstrings) != 2 {
		t.Fatalf("expected deny substrings to be trimmed and deduplicated, got %v", cfg.Crawler.DenySubstrings)
	}
	if cfg.Extractor.MinKeywordHits != 2 || cfg.Extractor.MinWords != 25 || len(cfg.Extractor.Keywords) != 2 {
		t.Fatalf("expected extractor overrides: %+v", cfg.Extractor)
	}
	if cfg.Storage.Provider != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/docs.db" {
		t.Fatalf("expected sqlite storage: %+v", cfg.Storage)
	}
	if cfg.Search.MaxResults != 30 {
		t.Fatalf("expected max results 30, got %d", cfg.Search.MaxResults)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.MaxPages != 50 || cfg.Crawler.Delay != time.Second {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.RequestTimeout != 5*time.Second || cfg.Crawler.UserAgent != DefaultUserAgent {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.FetchRetries != 0 || cfg.Crawler.MaxForbidden != 3 {
		t.Fatalf("unexpected politeness defaults: retries=%d forbidden=%d", cfg.Crawler.FetchRetries, cfg.Crawler.MaxForbidden)
	}
	if cfg.Search.MaxResults != 50 {
		t.Fatalf("expected result cap 50, got %d", cfg.Search.MaxResults)
	}
	if cfg.Storage.Provider != "local" || cfg.Storage.Local.Dir == "" {
		t.Fatalf("expected local storage default: %+v", cfg.Storage)
	}
	if cfg.Publisher.Provider != "none" {
		t.Fatalf("expected publisher default none, got %q", cfg.Publisher.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080},
			Crawler: CrawlerConfig{MaxPages: 10, Concurrency: 1, RequestTimeout: time.Second, UserAgent: "ua"},
			State:   StateConfig{Dir: "state"},
			Storage: StorageConfig{Provider: "memory"},
			Search:  SearchConfig{MaxResults: 50},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"relative seed", func(c *Config) { c.Crawler.Seeds = []SeedConfig{{URL: "/news"}} }},
		{"ftp seed", func(c *Config) { c.Crawler.Seeds = []SeedConfig{{URL: "ftp://example.com"}} }},
		{"negative depth", func(c *Config) { c.Crawler.MaxDepth = -1 }},
		{"max pages", func(c *Config) { c.Crawler.MaxPages = 0 }},
		{"concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"timeout", func(c *Config) { c.Crawler.RequestTimeout = 0 }},
		{"fetch retries", func(c *Config) { c.Crawler.FetchRetries = -1 }},
		{"max forbidden", func(c *Config) { c.Crawler.MaxForbidden = -1 }},
		{"state dir", func(c *Config) { c.State.Dir = "" }},
		{"storage provider", func(c *Config) { c.Storage.Provider = "s3" }},
		{"postgres dsn", func(c *Config) { c.Storage.Provider = "postgres" }},
		{"gcs bucket", func(c *Config) { c.Storage.Provider = "gcs" }},
		{"max results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"pubsub ids", func(c *Config) { c.Publisher.Provider = "pubsub" }},
		{"publisher provider", func(c *Config) { c.Publisher.Provider = "kafka" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
