package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often a transient fetch failure is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try; values below 2 disable retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries twice with 250ms..5s jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ShouldRetry reports whether err from attempt (1-based) is worth another try.
// Timeouts, connection errors, 429 and 5xx are transient; other statuses and
// cancellation are not.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, ErrFetch)
}

// Backoff returns the wait before attempt+1: half the exponential delay plus
// up to the same amount of jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// RetryingFetcher retries transient failures of the wrapped Fetcher.
type RetryingFetcher struct {
	next   Fetcher
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingFetcher wraps next with policy.
func NewRetryingFetcher(next Fetcher, policy RetryPolicy, logger *zap.Logger) *RetryingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{next: next, policy: policy, logger: logger}
}

// Fetch returns the first successful page or the last error.
func (f *RetryingFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := f.next.Fetch(ctx, rawURL)
		if !f.policy.ShouldRetry(err, attempt) {
			return page, err
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if waitErr := pause(ctx, delay); waitErr != nil {
			return page, err
		}
	}
}
