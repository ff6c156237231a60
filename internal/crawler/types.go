package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Seed is a crawl entry point plus the substring every admitted link must contain.
type Seed struct {
	URL           string `json:"url"`
	AllowedDomain string `json:"allowed_domain"`
}

// NewSeed validates rawURL and derives AllowedDomain from its host when empty.
func NewSeed(rawURL, allowedDomain string) (Seed, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Seed{}, fmt.Errorf("parse seed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Seed{}, fmt.Errorf("seed %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return Seed{}, fmt.Errorf("seed %q: missing host", rawURL)
	}
	domain := strings.ToLower(strings.TrimSpace(allowedDomain))
	if domain == "" {
		domain = strings.ToLower(u.Host)
	}
	return Seed{URL: u.String(), AllowedDomain: domain}, nil
}

// FrontierEntry is a discovered URL and the depth at which it was first seen.
// Key is the normalized form used for deduplication.
type FrontierEntry struct {
	URL   string
	Key   string
	Depth int
}

// Page is the raw result of a successful fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RejectReason names why the content filter declined a page.
type RejectReason string

// Rejection reasons reported by Extractor implementations.
const (
	RejectNone        RejectReason = ""
	RejectUnparsable  RejectReason = "unparsable"
	RejectOffTopic    RejectReason = "off_topic"
	RejectTooShort    RejectReason = "too_short"
	RejectDuplicate   RejectReason = "duplicate"
	RejectEmptyResult RejectReason = "empty"
)

// Extraction is the outcome of running the content filter over one page.
// Links are harvested whether or not the page was accepted.
type Extraction struct {
	Text     string
	Digest   string
	Accepted bool
	Reason   RejectReason
	Links    []string
}

// Summary reports what one crawl invocation did.
type Summary struct {
	RunID         string        `json:"run_id"`
	Seed          string        `json:"seed"`
	Saved         int           `json:"saved"`
	Fetched       int           `json:"fetched"`
	FetchFailures int           `json:"fetch_failures"`
	Rejected      int           `json:"rejected"`
	Skipped       int           `json:"skipped"`
	Enqueued      int           `json:"enqueued"`
	BudgetReached bool          `json:"budget_reached"`
	DocIDs        []int64       `json:"doc_ids,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Add folds another summary's counters into s.
func (s *Summary) Add(other Summary) {
	s.Saved += other.Saved
	s.Fetched += other.Fetched
	s.FetchFailures += other.FetchFailures
	s.Rejected += other.Rejected
	s.Skipped += other.Skipped
	s.Enqueued += other.Enqueued
	s.BudgetReached = s.BudgetReached || other.BudgetReached
	s.DocIDs = append(s.DocIDs, other.DocIDs...)
	s.Duration += other.Duration
}

// EventDocumentSaved names the event published after each saved document.
const EventDocumentSaved = "document.saved"

// DocumentSavedEvent is published after a document is persisted.
type DocumentSavedEvent struct {
	Event   string    `json:"event"`
	RunID   string    `json:"run_id"`
	DocID   int64     `json:"doc_id"`
	URL     string    `json:"url"`
	Depth   int       `json:"depth"`
	Words   int       `json:"words"`
	SavedAt time.Time `json:"saved_at"`
}
