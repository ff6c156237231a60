package crawler

import (
	"errors"
	"fmt"
)

// ErrFetch marks a network, timeout, or status failure. Fetch failures are
// recovered by the engine; the URL stays visited and the crawl continues.
var ErrFetch = errors.New("fetch failed")

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Unwrap lets errors.Is(err, ErrFetch) match status failures.
func (e *HTTPStatusError) Unwrap() error { return ErrFetch }
