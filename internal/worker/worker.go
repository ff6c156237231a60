// Package worker executes queued crawl runs and records their outcome.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/clock"
	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/queue"
	"github.com/JakeFAU/topical-search/internal/store"
)

const defaultCompleteTimeout = 5 * time.Second

// Runner performs the crawl behind one run. skipped reports that the run
// decided there was nothing to do.
type Runner interface {
	RunCrawl(ctx context.Context, req queue.Request) (summary crawler.Summary, skipped bool, err error)
}

// Refresher reloads state derived from the document store.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

// Config controls Worker behavior.
type Config struct {
	// CompleteTimeout bounds the final status write, which runs even after
	// the worker context is canceled.
	CompleteTimeout time.Duration
	// OnDone, when set, is called with every processed run's outcome.
	OnDone func(Result)
}

// Result is the terminal outcome of one processed run.
type Result struct {
	RunID   string
	Status  store.RunStatus
	Summary crawler.Summary
	Err     error
}

// Worker consumes crawl requests and executes them one at a time.
type Worker struct {
	queue     queue.Queue
	runs      store.RunRepository
	runner    Runner
	refresher Refresher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	current string
}

// New constructs a Worker. refresher and clk may be nil.
func New(
	q queue.Queue,
	runs store.RunRepository,
	runner Runner,
	refresher Refresher,
	clk crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = defaultCompleteTimeout
	}
	return &Worker{
		queue:     q,
		runs:      runs,
		runner:    runner,
		refresher: refresher,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue requests until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued crawl run", zap.String("run_id", req.RunID), zap.Bool("force", req.Force))
		w.Process(ctx, req)
	}
}

// Current returns the ID of the run being processed, if any.
func (w *Worker) Current() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.current != ""
}

func (w *Worker) setCurrent(runID string) {
	w.mu.Lock()
	w.current = runID
	w.mu.Unlock()
}

// Process executes one run synchronously: it marks the run running, crawls,
// records the terminal status, and refreshes derived state when documents
// were saved.
func (w *Worker) Process(ctx context.Context, req queue.Request) (res Result) {
	w.setCurrent(req.RunID)
	defer w.setCurrent("")
	if w.cfg.OnDone != nil {
		defer func() { w.cfg.OnDone(res) }()
	}
	log := w.logger.With(zap.String("run_id", req.RunID))

	if err := w.runs.StartRun(ctx, req.RunID, w.clock.Now()); err != nil {
		log.Error("update run status failed", zap.Error(err))
		res = Result{RunID: req.RunID, Status: store.RunFailed, Err: err}
		w.complete(ctx, res, log)
		return res
	}

	summary, skipped, err := w.runner.RunCrawl(ctx, req)
	if summary.RunID == "" {
		summary.RunID = req.RunID
	}
	res = Result{RunID: req.RunID, Status: deriveStatus(skipped, err), Summary: summary, Err: err}
	w.complete(ctx, res, log)

	switch res.Status {
	case store.RunFailed:
		log.Error("crawl run failed", zap.Error(err), zap.Int("saved", summary.Saved))
	case store.RunCanceled:
		log.Warn("crawl run canceled", zap.Int("saved", summary.Saved))
	default:
		log.Info("crawl run finished", zap.String("status", string(res.Status)), zap.Int("saved", summary.Saved))
	}

	if summary.Saved > 0 && w.refresher != nil {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.CompleteTimeout)
		defer cancel()
		if err := w.refresher.Refresh(refreshCtx, true); err != nil {
			log.Warn("refresh after crawl failed", zap.Error(err))
		}
	}
	return res
}

// complete writes the terminal status even when ctx is already canceled.
func (w *Worker) complete(ctx context.Context, res Result, log *zap.Logger) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.CompleteTimeout)
	defer cancel()

	var errMsg *string
	if res.Err != nil {
		msg := res.Err.Error()
		errMsg = &msg
	}
	if err := w.runs.CompleteRun(writeCtx, res.RunID, w.clock.Now(), res.Status, res.Summary, errMsg); err != nil {
		log.Error("final run status update failed", zap.String("status", string(res.Status)), zap.Error(err))
	}
}

func deriveStatus(skipped bool, err error) store.RunStatus {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return store.RunCanceled
	case err != nil:
		return store.RunFailed
	case skipped:
		return store.RunSkipped
	default:
		return store.RunSucceeded
	}
}
