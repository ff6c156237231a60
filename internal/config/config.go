// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent mimics a desktop browser; many sites reject the Go default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	State     StateConfig     `mapstructure:"state"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
	Publisher PublisherConfig `mapstructure:"publisher"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SeedConfig is one crawl entry point. AllowedDomain falls back to the URL host.
type SeedConfig struct {
	URL           string `mapstructure:"url"`
	AllowedDomain string `mapstructure:"allowed_domain"`
}

// CrawlerConfig governs the frontier and fetch behavior.
type CrawlerConfig struct {
	Seeds          []SeedConfig  `mapstructure:"seeds"`
	MaxDepth       int           `mapstructure:"max_depth"`
	MaxPages       int           `mapstructure:"max_pages"`
	Concurrency    int           `mapstructure:"concurrency"`
	Delay          time.Duration `mapstructure:"delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	DenySubstrings []string      `mapstructure:"deny_substrings"`
	BlockedHosts   []string      `mapstructure:"blocked_hosts"`
	MaxPageBytes   int           `mapstructure:"max_page_bytes"`

	// FetchRetries is how many extra attempts a transient fetch failure gets.
	FetchRetries int `mapstructure:"fetch_retries"`
	MaxForbidden int `mapstructure:"max_forbidden"`
}

// ExtractorConfig tunes the relevance gate and content extraction.
type ExtractorConfig struct {
	Keywords            []string `mapstructure:"keywords"`
	MinKeywordHits      int      `mapstructure:"min_keyword_hits"`
	MinWords            int      `mapstructure:"min_words"`
	ContentPattern      string   `mapstructure:"content_pattern"`
	StripSelectors      []string `mapstructure:"strip_selectors"`
	ReadabilityFallback bool     `mapstructure:"readability_fallback"`
}

// StateConfig points at the durable crawl-state logs.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Local    LocalConfig    `mapstructure:"local"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem document store.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// PostgresConfig configures the Postgres document store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig configures the SQLite document store.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// GCSConfig configures the Cloud Storage document store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// SearchConfig controls ranking output.
type SearchConfig struct {
	MaxResults int     `mapstructure:"max_results"`
	MinScore   float64 `mapstructure:"min_score"`
	PerPage    int     `mapstructure:"per_page"`
}

// PublisherConfig selects where document-saved events go.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOPICSEARCH")
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
	cfg.Crawler.DenySubstrings = normalizeList(cfg.Crawler.DenySubstrings)
	cfg.Crawler.BlockedHosts = normalizeList(cfg.Crawler.BlockedHosts)
	cfg.Extractor.Keywords = normalizeList(cfg.Extractor.Keywords)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 50)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.request_timeout", "5s")
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_page_bytes", 5*1024*1024)
	v.SetDefault("crawler.fetch_retries", 0)
	v.SetDefault("crawler.max_forbidden", 3)
	v.SetDefault("crawler.deny_substrings", []string{
		"utm_", "/tag/", "/tags/", "/page/", "?page=", "/login", "/signup", "/share",
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".pdf", ".mp4", ".mp3", ".zip",
	})
	v.SetDefault("crawler.blocked_hosts", []string{
		"*.facebook.com", "*.twitter.com", "x.com", "*.instagram.com", "*.linkedin.com",
		"*.youtube.com", "*.pinterest.com", "*.doubleclick.net",
	})

	v.SetDefault("extractor.keywords", []string{})
	v.SetDefault("extractor.min_keyword_hits", 0)
	v.SetDefault("extractor.min_words", 50)
	v.SetDefault("extractor.content_pattern", "content|article|body")
	v.SetDefault("extractor.strip_selectors", []string{
		"script", "style", "noscript", "nav", "header", "footer", "aside", "form", "iframe",
	})
	v.SetDefault("extractor.readability_fallback", false)

	v.SetDefault("state.dir", "data/state")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local.dir", "data/docs")
	v.SetDefault("storage.postgres.table", "documents")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.sqlite.path", "data/documents.db")
	v.SetDefault("storage.gcs.prefix", "docs")

	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.min_score", 1e-9)
	v.SetDefault("search.per_page", 10)

	v.SetDefault("publisher.provider", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	for i, seed := range c.Crawler.Seeds {
		u, err := url.Parse(seed.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("crawler.seeds[%d].url must be an absolute http(s) URL", i)
		}
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.FetchRetries < 0 || c.Crawler.MaxForbidden < 0 {
		return fmt.Errorf("crawler.fetch_retries and crawler.max_forbidden must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Extractor.MinKeywordHits < 0 || c.Extractor.MinWords < 0 {
		return fmt.Errorf("extractor thresholds must be >= 0")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must be set")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if c.Search.MinScore < 0 {
		return fmt.Errorf("search.min_score must be >= 0")
	}
	switch c.Publisher.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider %q", c.Publisher.Provider)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Provider {
	case "local":
		if s.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir must be set")
		}
	case "memory":
	case "postgres":
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set")
		}
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", s.Provider)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
