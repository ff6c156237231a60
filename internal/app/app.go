// Package app builds and holds the long-lived services behind every command:
// crawl state, document store, crawl engine, search service, and the crawl
// run worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/clock"
	"github.com/JakeFAU/topical-search/internal/config"
	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/dispatcher"
	"github.com/JakeFAU/topical-search/internal/extract"
	collyfetcher "github.com/JakeFAU/topical-search/internal/fetcher/colly"
	"github.com/JakeFAU/topical-search/internal/hash/sha256"
	"github.com/JakeFAU/topical-search/internal/id/uuid"
	"github.com/JakeFAU/topical-search/internal/policy/ratelimit"
	"github.com/JakeFAU/topical-search/internal/policy/robots"
	memorypublisher "github.com/JakeFAU/topical-search/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/topical-search/internal/publisher/pubsub"
	"github.com/JakeFAU/topical-search/internal/queue"
	queuememory "github.com/JakeFAU/topical-search/internal/queue/memory"
	"github.com/JakeFAU/topical-search/internal/search"
	"github.com/JakeFAU/topical-search/internal/state"
	"github.com/JakeFAU/topical-search/internal/storage"
	gcsstorage "github.com/JakeFAU/topical-search/internal/storage/gcs"
	localstorage "github.com/JakeFAU/topical-search/internal/storage/local"
	memorystorage "github.com/JakeFAU/topical-search/internal/storage/memory"
	pgstore "github.com/JakeFAU/topical-search/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/topical-search/internal/storage/sqlite"
	"github.com/JakeFAU/topical-search/internal/store"
	"github.com/JakeFAU/topical-search/internal/worker"
)

var (
	// ErrCrawlInProgress is returned when a trigger arrives while another run
	// is executing or waiting.
	ErrCrawlInProgress = errors.New("crawl already in progress")
	// ErrNoSeeds is returned when a crawl is requested without configured seeds.
	ErrNoSeeds = errors.New("no crawl seeds configured")
)

// Publisher is a crawler.Publisher that owns a connection.
type Publisher interface {
	crawler.Publisher
	Close() error
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	state     *state.Store
	docs      storage.Store
	runs      store.RunRepository
	publisher Publisher
	engine    *crawler.Engine
	search    *search.Service
	seeds     []crawler.Seed
	ids       crawler.IDGenerator
	clock     crawler.Clock

	queue    *queuememory.Queue
	worker   *worker.Worker
	dispatch *dispatcher.Dispatcher

	crawlMu    sync.Mutex
	triggerMu  sync.Mutex
	pendingRun string
	closeOnce  sync.Once
}

type options struct {
	fetcher   crawler.Fetcher
	docs      storage.Store
	runs      store.RunRepository
	publisher Publisher
	clock     crawler.Clock
}

// Option overrides a collaborator Build would otherwise construct from config.
type Option func(*options)

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f crawler.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithDocuments replaces the configured document store.
func WithDocuments(s storage.Store) Option { return func(o *options) { o.docs = s } }

// WithRuns replaces the crawl run repository.
func WithRuns(r store.RunRepository) Option { return func(o *options) { o.runs = r } }

// WithPublisher replaces the configured event publisher.
func WithPublisher(p Publisher) Option { return func(o *options) { o.publisher = p } }

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option { return func(o *options) { o.clock = c } }

// Build creates the application's dependencies. On error every service that
// was already opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	a := &App{cfg: cfg, logger: logger, ids: uuid.New(), clock: o.clock}
	if err := a.build(ctx, o); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	a.logger.Info("building application dependencies")

	seeds, err := buildSeeds(a.cfg.Crawler.Seeds)
	if err != nil {
		return err
	}
	a.seeds = seeds

	a.state, err = state.Open(a.cfg.State.Dir, a.logger.Named("state"))
	if err != nil {
		return fmt.Errorf("crawl state init failed: %w", err)
	}

	a.docs = o.docs
	if a.docs == nil {
		if a.docs, err = setupStorage(ctx, a.cfg.Storage, a.logger.Named("storage")); err != nil {
			return err
		}
	}

	a.runs = o.runs
	if a.runs == nil {
		if a.runs, err = setupRuns(ctx, a.docs, a.logger); err != nil {
			return err
		}
	}

	a.publisher = o.publisher
	if a.publisher == nil {
		if a.publisher, err = setupPublisher(ctx, a.cfg.Publisher, a.logger.Named("publisher")); err != nil {
			return err
		}
	}

	if a.engine, err = a.setupEngine(o.fetcher); err != nil {
		return err
	}

	a.search = search.NewService(a.docs, search.Config{
		MaxResults: a.cfg.Search.MaxResults,
		MinScore:   a.cfg.Search.MinScore,
	}, a.logger.Named("search"))

	a.queue = queuememory.NewQueue(1)
	a.worker = worker.New(a.queue, a.runs, a, a.search, a.clock, worker.Config{
		OnDone: a.runDone,
	}, a.logger.Named("worker"))
	a.dispatch = dispatcher.New(a.queue, []*worker.Worker{a.worker})
	return nil
}

func buildSeeds(in []config.SeedConfig) ([]crawler.Seed, error) {
	seeds := make([]crawler.Seed, 0, len(in))
	for i, s := range in {
		seed, err := crawler.NewSeed(s.URL, s.AllowedDomain)
		if err != nil {
			return nil, fmt.Errorf("crawler.seeds[%d]: %w", i, err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func setupStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Provider {
	case "gcs":
		logger.Info("using GCS document store", zap.String("bucket", cfg.GCS.Bucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		s, err := gcsstorage.New(ctx, client, gcsstorage.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("gcs document store init failed: %w", err), client.Close())
		}
		return s, nil
	case "postgres":
		logger.Info("using postgres document store", zap.String("table", cfg.Postgres.Table))
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres document store init failed: %w", err)
		}
		return s, nil
	case "sqlite":
		logger.Info("using sqlite document store", zap.String("path", cfg.SQLite.Path))
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLite.Path}, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite document store init failed: %w", err)
		}
		return s, nil
	case "memory":
		logger.Warn("using in-memory document store; documents are lost on exit")
		return memorystorage.New(), nil
	case "local", "":
		logger.Info("using local document store", zap.String("dir", cfg.Local.Dir))
		s, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.Dir}, logger)
		if err != nil {
			return nil, fmt.Errorf("local document store init failed: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// setupRuns keeps run history next to the documents when they live in
// Postgres and in memory otherwise.
func setupRuns(ctx context.Context, docs storage.Store, logger *zap.Logger) (store.RunRepository, error) {
	if pg, ok := docs.(*pgstore.DocumentStore); ok {
		runs, err := pgstore.NewRunStore(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("postgres run store init failed: %w", err)
		}
		logger.Info("crawl run history stored in postgres")
		return runs, nil
	}
	logger.Debug("crawl run history kept in memory")
	return memorystorage.NewRunStore(), nil
}

func setupPublisher(ctx context.Context, cfg config.PublisherConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Provider {
	case "pubsub":
		p, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: cfg.ProjectID, TopicID: cfg.TopicID}, logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.TopicID),
		)
		return p, nil
	case "memory":
		logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		logger.Debug("document events disabled")
		return nil, nil
	}
}

func (a *App) setupEngine(fetcher crawler.Fetcher) (*crawler.Engine, error) {
	c := a.cfg.Crawler
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:   c.UserAgent,
			Timeout:     c.RequestTimeout,
			MaxBodySize: c.MaxPageBytes,
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", c.UserAgent))
	}
	if c.FetchRetries > 0 {
		policy := crawler.DefaultRetryPolicy()
		policy.MaxAttempts = c.FetchRetries + 1
		fetcher = crawler.NewRetryingFetcher(fetcher, policy, a.logger.Named("fetch"))
	}

	x := a.cfg.Extractor
	filter, err := extract.New(extract.Config{
		Keywords:            x.Keywords,
		MinKeywordHits:      x.MinKeywordHits,
		MinWords:            x.MinWords,
		ContentPattern:      x.ContentPattern,
		StripSelectors:      x.StripSelectors,
		ReadabilityFallback: x.ReadabilityFallback,
	}, a.state, sha256.New(), a.logger.Named("extract"))
	if err != nil {
		return nil, fmt.Errorf("content filter init failed: %w", err)
	}

	deps := crawler.Dependencies{
		Fetcher:   fetcher,
		Extractor: filter,
		Documents: a.docs,
		Visits:    a.state,
		Hashes:    a.state,
		Robots: robots.New(robots.Config{
			Respect:   c.RespectRobots,
			UserAgent: c.UserAgent,
			Timeout:   c.RequestTimeout,
		}, a.logger.Named("robots")),
		Limiter: ratelimit.New(ratelimit.Config{Interval: c.Delay}),
		IDs:     a.ids,
		Clock:   a.clock,
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	engine, err := crawler.NewEngine(crawler.Config{
		MaxDepth:       c.MaxDepth,
		MaxPages:       c.MaxPages,
		Concurrency:    c.Concurrency,
		Delay:          c.Delay,
		DenySubstrings: c.DenySubstrings,
		BlockedHosts:   c.BlockedHosts,
		MaxForbidden:   c.MaxForbidden,
	}, deps, a.logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("crawl engine init failed: %w", err)
	}
	return engine, nil
}

// RunCrawl executes the crawl behind one run. Without force an existing
// corpus is kept and only loaded for search.
func (a *App) RunCrawl(ctx context.Context, req queue.Request) (crawler.Summary, bool, error) {
	a.crawlMu.Lock()
	defer a.crawlMu.Unlock()
	log := a.logger.With(zap.String("run_id", req.RunID))

	if !req.Force {
		next, err := a.docs.NextID(ctx)
		if err != nil {
			return crawler.Summary{}, false, fmt.Errorf("inspect document store: %w", err)
		}
		if next > 0 {
			log.Info("documents already stored; skipping crawl", zap.Int64("next_doc_id", next))
			if err := a.search.Refresh(ctx, false); err != nil {
				log.Warn("load existing corpus failed", zap.Error(err))
			}
			return crawler.Summary{RunID: req.RunID, StartedAt: a.clock.Now()}, true, nil
		}
	}
	if len(a.seeds) == 0 {
		return crawler.Summary{}, false, ErrNoSeeds
	}
	summary, err := a.engine.CrawlAll(crawler.WithRunID(ctx, req.RunID), a.seeds)
	return summary, false, err
}

// Crawl records a run and executes it synchronously.
func (a *App) Crawl(ctx context.Context, force bool) (worker.Result, error) {
	runID, err := a.createRun(ctx, force)
	if err != nil {
		return worker.Result{}, err
	}
	res := a.worker.Process(ctx, queue.Request{RunID: runID, Force: force})
	return res, res.Err
}

// TriggerCrawl records a queued run and hands it to the background worker.
// Only one run may execute or wait at a time.
func (a *App) TriggerCrawl(ctx context.Context, force bool) (string, error) {
	a.triggerMu.Lock()
	defer a.triggerMu.Unlock()

	if a.pendingRun != "" {
		return "", ErrCrawlInProgress
	}
	runID, err := a.createRun(ctx, force)
	if err != nil {
		return "", err
	}
	if err := a.dispatch.TryEnqueue(queue.Request{RunID: runID, Force: force}); err != nil {
		msg := err.Error()
		if completeErr := a.runs.CompleteRun(ctx, runID, a.clock.Now(), store.RunFailed, crawler.Summary{}, &msg); completeErr != nil {
			a.logger.Warn("mark unqueued run failed", zap.String("run_id", runID), zap.Error(completeErr))
		}
		if errors.Is(err, queue.ErrFull) {
			return "", ErrCrawlInProgress
		}
		return "", err
	}
	a.pendingRun = runID
	a.logger.Info("crawl run queued", zap.String("run_id", runID), zap.Bool("force", force))
	return runID, nil
}

// runDone frees the trigger slot once the queued run has finished.
func (a *App) runDone(res worker.Result) {
	a.triggerMu.Lock()
	defer a.triggerMu.Unlock()
	if a.pendingRun == res.RunID {
		a.pendingRun = ""
	}
}

func (a *App) createRun(ctx context.Context, force bool) (string, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	if err := a.runs.CreateRun(ctx, store.Run{
		ID:       runID,
		Force:    force,
		Status:   store.RunQueued,
		QueuedAt: a.clock.Now(),
	}); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// CrawlStatus describes the background crawl worker and the corpus.
type CrawlStatus struct {
	Active     []string     `json:"active_runs"`
	Pending    int          `json:"pending_runs"`
	NextDocID  int64        `json:"next_doc_id"`
	Visited    int          `json:"visited_urls"`
	Hashes     int          `json:"content_hashes"`
	IndexStats search.Stats `json:"index"`
}

// Status reports what the crawl worker is doing.
func (a *App) Status(ctx context.Context) (CrawlStatus, error) {
	next, err := a.docs.NextID(ctx)
	if err != nil {
		return CrawlStatus{}, fmt.Errorf("inspect document store: %w", err)
	}
	visited, hashes := a.state.Counts()
	return CrawlStatus{
		Active:     a.dispatch.Active(),
		Pending:    a.queue.Len(),
		NextDocID:  next,
		Visited:    visited,
		Hashes:     hashes,
		IndexStats: a.search.Stats(),
	}, nil
}

// Search answers a query against the loaded corpus.
func (a *App) Search(ctx context.Context, query string) search.Response {
	return a.search.Search(ctx, query)
}

// Ready reports whether the document store can be inspected.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.docs.NextID(ctx); err != nil {
		return fmt.Errorf("document store not ready: %w", err)
	}
	return nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// SearchService exposes the search service.
func (a *App) SearchService() *search.Service { return a.search }

// Runs exposes the crawl run history.
func (a *App) Runs() store.RunRepository { return a.runs }

// Dispatcher exposes the background crawl dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Close releases every service the app opened. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		if a.publisher != nil {
			if err := a.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher: %w", err))
			}
		}
		if a.docs != nil {
			if err := a.docs.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close document store: %w", err))
			}
		}
		if a.state != nil {
			if err := a.state.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close crawl state: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
