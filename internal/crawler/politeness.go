package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// forbiddenHosts blocks a host for the rest of a run once it has answered
// 403 or 429 threshold times. A nil *forbiddenHosts blocks nothing.
type forbiddenHosts struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

func newForbiddenHosts(threshold int) *forbiddenHosts {
	if threshold <= 0 {
		return nil
	}
	return &forbiddenHosts{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

func (b *forbiddenHosts) IsBlocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[host]
	return ok
}

// MarkForbidden counts one refusal and reports whether host just became
// blocked.
func (b *forbiddenHosts) MarkForbidden(host string) bool {
	if b == nil || host == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[host]; blocked {
		return false
	}
	b.counts[host]++
	if b.counts[host] >= b.threshold {
		b.blocked[host] = struct{}{}
		return true
	}
	return false
}

func isRefusal(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusTooManyRequests
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// pause waits for delay or until ctx ends, whichever comes first.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
