package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/topical-search/internal/metrics"
)

// Dependencies bundles the collaborators an Engine drives. Robots, Limiter,
// Publisher, IDs, and Clock are optional.
type Dependencies struct {
	Fetcher   Fetcher
	Extractor Extractor
	Documents DocumentSink
	Visits    VisitLog
	Hashes    ContentLedger
	Robots    RobotsPolicy
	Limiter   Limiter
	Publisher Publisher
	IDs       IDGenerator
	Clock     Clock
}

// Engine runs breadth-first topical crawls over a bounded worker pool.
type Engine struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// NewEngine validates cfg and the required dependencies.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("crawler engine requires a fetcher")
	case deps.Extractor == nil:
		return nil, errors.New("crawler engine requires an extractor")
	case deps.Documents == nil:
		return nil, errors.New("crawler engine requires a document sink")
	case deps.Visits == nil:
		return nil, errors.New("crawler engine requires a visit log")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// run carries the state of one Crawl invocation.
type run struct {
	id        string
	seed      Seed
	frontier  *Frontier
	admission *Admission
	forbidden *forbiddenHosts
	logger    *zap.Logger

	fetched  atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64
	skipped  atomic.Int64
	enqueued atomic.Int64

	mu     sync.Mutex
	docIDs []int64
}

// CrawlAll crawls each seed in order and folds the summaries. It stops at the
// first run that returns an error.
func (e *Engine) CrawlAll(ctx context.Context, seeds []Seed) (Summary, error) {
	total := Summary{StartedAt: e.deps.Clock.Now()}
	for _, seed := range seeds {
		summary, err := e.Crawl(ctx, seed)
		total.Add(summary)
		if total.RunID == "" {
			total.RunID = summary.RunID
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Crawl runs one breadth-first crawl from seed and returns how many documents
// were saved. Fetch failures and content rejections are recovered; a failure
// to persist a document or a state entry aborts the run, and the returned
// summary still reflects exactly what was persisted.
func (e *Engine) Crawl(ctx context.Context, seed Seed) (Summary, error) {
	seed, err := NewSeed(seed.URL, seed.AllowedDomain)
	if err != nil {
		return Summary{}, err
	}
	runID := e.newRunID(ctx)
	started := e.deps.Clock.Now()
	r := &run{
		id:        runID,
		seed:      seed,
		frontier:  NewFrontier(e.cfg.MaxDepth, e.cfg.MaxPages, e.deps.Visits.Visited),
		admission: NewAdmission(seed.AllowedDomain, e.cfg.DenySubstrings, e.cfg.BlockedHosts),
		forbidden: newForbiddenHosts(e.cfg.MaxForbidden),
		logger:    e.logger.With(zap.String("run_id", runID), zap.String("seed", seed.URL)),
	}

	key, err := NormalizeURL(seed.URL)
	if err != nil {
		return Summary{}, fmt.Errorf("normalize seed: %w", err)
	}
	if r.frontier.Push(FrontierEntry{URL: seed.URL, Key: key, Depth: 0}) == 0 {
		r.logger.Info("seed already crawled; nothing to do")
	}
	r.logger.Info("crawl started",
		zap.String("allowed_domain", seed.AllowedDomain),
		zap.Int("max_depth", e.cfg.MaxDepth),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return e.runWorker(gctx, worker, r)
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	summary := r.summary(started, e.deps.Clock.Now())
	status := "succeeded"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	case err != nil:
		status = "failed"
		r.logger.Error("crawl aborted", zap.Error(err), zap.Int("saved", summary.Saved))
	}
	metrics.ObserveRun(status)
	r.logger.Info("crawl finished",
		zap.String("status", status),
		zap.Int("saved", summary.Saved),
		zap.Int("fetched", summary.Fetched),
		zap.Int("fetch_failures", summary.FetchFailures),
		zap.Int("rejected", summary.Rejected),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("budget_reached", summary.BudgetReached),
		zap.Duration("duration", summary.Duration),
	)
	return summary, err
}

type runIDKey struct{}

// WithRunID makes crawls started with the returned context report runID
// instead of generating their own.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func (e *Engine) newRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	if e.deps.IDs == nil {
		return ""
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		e.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) runWorker(ctx context.Context, worker int, r *run) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	limiterKey := fmt.Sprintf("%s/worker-%d", r.id, worker)
	for {
		entry, ok := r.frontier.Next(ctx)
		if !ok {
			return nil
		}
		saved, children, err := e.visit(ctx, limiterKey, r, entry)
		r.enqueued.Add(int64(r.frontier.Done(saved, children)))
		if err != nil {
			r.frontier.Abort()
			return err
		}
	}
}

// visit processes one dequeued entry. It reports whether a document was saved
// and the admitted child entries to enqueue.
func (e *Engine) visit(ctx context.Context, limiterKey string, r *run, entry FrontierEntry) (bool, []FrontierEntry, error) {
	log := r.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

	if err := e.deps.Visits.MarkVisited(entry.Key); err != nil {
		return false, nil, fmt.Errorf("persist visited url %s: %w", entry.URL, err)
	}

	if e.deps.Robots != nil && !e.deps.Robots.Allowed(ctx, entry.URL) {
		r.skipped.Add(1)
		metrics.ObservePage(entry.URL, "robots_disallowed", 0)
		log.Debug("skipping url disallowed by robots.txt")
		return false, nil, nil
	}

	host := hostOf(entry.URL)
	if r.forbidden.IsBlocked(host) {
		r.skipped.Add(1)
		metrics.ObservePage(entry.URL, "host_blocked", 0)
		log.Debug("skipping url on host that keeps refusing requests")
		return false, nil, nil
	}

	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(ctx, limiterKey); err != nil {
			r.skipped.Add(1)
			log.Debug("rate limit wait interrupted", zap.Error(err))
			return false, nil, nil
		}
	}

	page, err := e.deps.Fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		r.failures.Add(1)
		metrics.ObservePage(entry.URL, "fetch_error", 0)
		log.Warn("fetch failed", zap.Error(err))
		if isRefusal(err) && r.forbidden.MarkForbidden(host) {
			log.Warn("host blocked for the rest of the run", zap.String("host", host))
		}
		return false, nil, nil
	}
	r.fetched.Add(1)

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = entry.URL
	}
	extraction, err := e.deps.Extractor.Extract(ctx, page.Body, pageURL)
	if err != nil {
		return false, nil, fmt.Errorf("extract %s: %w", entry.URL, err)
	}
	children := e.children(r, entry, extraction.Links)

	if !extraction.Accepted {
		r.rejected.Add(1)
		metrics.ObservePage(entry.URL, "rejected", len(page.Body))
		metrics.ObserveRejection(string(extraction.Reason))
		log.Debug("page rejected", zap.String("reason", string(extraction.Reason)), zap.Int("links", len(children)))
		return false, children, nil
	}

	docID, err := e.deps.Documents.Save(ctx, entry.URL, extraction.Text)
	if err != nil {
		e.releaseDigest(extraction.Digest)
		return false, children, fmt.Errorf("save document %s: %w", entry.URL, err)
	}
	r.mu.Lock()
	r.docIDs = append(r.docIDs, docID)
	r.mu.Unlock()
	if e.deps.Hashes != nil && extraction.Digest != "" {
		if err := e.deps.Hashes.CommitHash(extraction.Digest); err != nil {
			e.releaseDigest(extraction.Digest)
			return true, children, fmt.Errorf("persist content hash %s: %w", entry.URL, err)
		}
	}
	metrics.ObservePage(entry.URL, "saved", len(page.Body))
	log.Info("document saved", zap.Int64("doc_id", docID), zap.Int("links", len(children)))

	e.publishSaved(ctx, r, entry, docID, extraction.Text, log)
	return true, children, nil
}

func (e *Engine) releaseDigest(digest string) {
	if e.deps.Hashes != nil && digest != "" {
		e.deps.Hashes.ReleaseHash(digest)
	}
}

func (e *Engine) children(r *run, parent FrontierEntry, links []string) []FrontierEntry {
	depth := parent.Depth + 1
	if depth > e.cfg.MaxDepth || len(links) == 0 {
		return nil
	}
	out := make([]FrontierEntry, 0, len(links))
	for _, link := range links {
		if !r.admission.Admit(link) {
			continue
		}
		key, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		out = append(out, FrontierEntry{URL: link, Key: key, Depth: depth})
	}
	return out
}

func (e *Engine) publishSaved(ctx context.Context, r *run, entry FrontierEntry, docID int64, text string, log *zap.Logger) {
	if e.deps.Publisher == nil {
		return
	}
	event := DocumentSavedEvent{
		Event:   EventDocumentSaved,
		RunID:   r.id,
		DocID:   docID,
		URL:     entry.URL,
		Depth:   entry.Depth,
		Words:   countWords(text),
		SavedAt: e.deps.Clock.Now(),
	}
	if _, err := e.deps.Publisher.Publish(ctx, EventDocumentSaved, event); err != nil {
		log.Warn("publish document event failed", zap.Int64("doc_id", docID), zap.Error(err))
	}
}

func (r *run) summary(started, finished time.Time) Summary {
	r.mu.Lock()
	ids := append([]int64(nil), r.docIDs...)
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return Summary{
		RunID:         r.id,
		Seed:          r.seed.URL,
		Saved:         r.frontier.Saved(),
		Fetched:       int(r.fetched.Load()),
		FetchFailures: int(r.failures.Load()),
		Rejected:      int(r.rejected.Load()),
		Skipped:       int(r.skipped.Load()),
		Enqueued:      int(r.enqueued.Load()),
		BudgetReached: r.frontier.BudgetReached(),
		DocIDs:        ids,
		StartedAt:     started,
		Duration:      finished.Sub(started),
	}
}

func countWords(text string) int {
	n, inWord := 0, false
	for _, r := range text {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !space && !inWord {
			n++
		}
		inWord = !space
	}
	return n
}

