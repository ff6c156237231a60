// Package robots enforces robots.txt directives per host using temoto/robotstxt.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/crawler"
)

// maxRobotsBytes caps how much of a robots.txt body is read.
const maxRobotsBytes = 1 << 20

var defaultBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Config controls robots enforcement.
type Config struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
}

// Enforcer caches parsed robots.txt per host. Hosts whose robots.txt cannot be
// fetched are allowed.
type Enforcer struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	backoff   []time.Duration
	logger    *zap.Logger
}

// New builds a crawler.RobotsPolicy respecting the config toggle.
func New(cfg Config, logger *zap.Logger) crawler.RobotsPolicy {
	if !cfg.Respect {
		return AllowAll{}
	}
	return newEnforcer(cfg, &http.Client{}, logger)
}

func newEnforcer(cfg Config, client *http.Client, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.Timeout = timeout
	return &Enforcer{
		client:    client,
		userAgent: cfg.UserAgent,
		backoff:   defaultBackoff,
		logger:    logger,
	}
}

// Allowed implements crawler.RobotsPolicy.
func (r *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (r *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	status, body, err := r.fetchWithRetry(ctx, robotsURL.String())
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

// fetchWithRetry retries transient timeouts with backoff. After the last
// attempt times out the host is treated as having no robots.txt.
func (r *Enforcer) fetchWithRetry(ctx context.Context, robotsURL string) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		status, body, err := r.fetch(ctx, robotsURL)
		if err == nil {
			return status, body, nil
		}
		if !isTransient(err) || ctx.Err() != nil {
			return 0, nil, err
		}
		if attempt >= len(r.backoff) {
			r.logger.Warn("robots fetch kept timing out; treating as allow-all", zap.String("url", robotsURL))
			return http.StatusNotFound, nil, nil
		}
		if err := sleepWithContext(ctx, r.backoff[attempt]); err != nil {
			return 0, nil, err
		}
	}
}

func (r *Enforcer) fetch(ctx context.Context, robotsURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// AllowAll permits every URL.
type AllowAll struct{}

// Allowed implements crawler.RobotsPolicy.
func (AllowAll) Allowed(context.Context, string) bool { return true }
