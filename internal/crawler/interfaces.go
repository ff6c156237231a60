package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Non-2xx responses,
// timeouts, and transport failures are returned as errors wrapping ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Extractor filters raw markup for relevance and returns cleaned text plus links.
// A returned error means durable state could not be written.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, pageURL string) (Extraction, error)
}

// DocumentSink persists accepted documents and assigns their identifiers.
type DocumentSink interface {
	Save(ctx context.Context, url, text string) (int64, error)
}

// VisitLog is the durable record of URLs already processed.
type VisitLog interface {
	Visited(key string) bool
	MarkVisited(key string) error
}

// ContentLedger settles the content digest an Extractor claimed for an
// accepted page: committed once the document is saved, released otherwise.
type ContentLedger interface {
	CommitHash(digest string) error
	ReleaseHash(digest string)
}

// RobotsPolicy reports whether robots.txt permits fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Limiter blocks until the caller identified by key may proceed.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Publisher pushes document events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
