package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/index"
	"github.com/JakeFAU/topical-search/internal/metrics"
	"github.com/JakeFAU/topical-search/internal/storage"
)

// Loader reads the corpus snapshot the index is built from.
type Loader interface {
	LoadAll(ctx context.Context) ([]storage.Record, error)
}

// Response is what callers of Service.Search receive. Err is non-empty when
// the document store could not be read completely; Results then holds
// whatever the readable documents produced, possibly nothing.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Err     string   `json:"error,omitempty"`
}

// Stats describes the loaded snapshot.
type Stats struct {
	Documents int       `json:"documents"`
	Terms     int       `json:"terms"`
	LoadedAt  time.Time `json:"loaded_at"`
	LoadError string    `json:"load_error,omitempty"`
}

// Service owns the current index snapshot and swaps it on Refresh.
type Service struct {
	loader Loader
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	reload sync.Mutex // serializes loads

	mu       sync.RWMutex
	engine   *Engine
	loadErr  error
	loadedAt time.Time
}

// NewService wires a service; nothing is loaded until Load or the first
// Search.
func NewService(loader Loader, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		loader: loader,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load reads the corpus and builds a fresh index. Unreadable documents are
// skipped: the snapshot keeps every readable document and the returned
// error names the rest. A load that yields no documents at all because the
// store failed keeps the previous snapshot.
func (s *Service) Load(ctx context.Context) error {
	s.reload.Lock()
	defer s.reload.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) error {
	if s.loader == nil {
		return errors.New("search service has no document loader")
	}
	started := s.now()
	records, err := s.loader.LoadAll(ctx)
	if err != nil && len(records) == 0 {
		s.mu.Lock()
		s.loadErr = fmt.Errorf("load documents: %w", err)
		s.mu.Unlock()
		s.logger.Error("document store unreadable", zap.Error(err))
		return s.loadErr
	}
	idx := index.Build(records)
	engine := NewEngine(idx, s.cfg)

	var loadErr error
	if err != nil {
		loadErr = fmt.Errorf("load documents: %w", err)
		s.logger.Warn("index built from a partial corpus", zap.Int("documents", idx.Len()), zap.Error(err))
	}
	s.mu.Lock()
	s.engine = engine
	s.loadErr = loadErr
	s.loadedAt = s.now()
	s.mu.Unlock()

	metrics.SetIndexSize(idx.Len(), idx.Terms())
	s.logger.Info("search index loaded",
		zap.Int("documents", idx.Len()),
		zap.Int("terms", idx.Terms()),
		zap.Duration("duration", s.now().Sub(started)),
	)
	return loadErr
}

// Refresh reloads the index. Without force it only loads when no snapshot
// exists yet or the last load failed.
func (s *Service) Refresh(ctx context.Context, force bool) error {
	s.reload.Lock()
	defer s.reload.Unlock()
	if !force {
		s.mu.RLock()
		ready := s.engine != nil && s.loadErr == nil
		s.mu.RUnlock()
		if ready {
			return nil
		}
	}
	return s.loadLocked(ctx)
}

// Search ranks the current snapshot, loading it first if needed. It never
// returns an error: store failures surface in Response.Err.
func (s *Service) Search(ctx context.Context, query string) Response {
	started := time.Now()
	resp := Response{Query: query, Results: []Result{}}

	s.mu.RLock()
	engine, loadErr := s.engine, s.loadErr
	s.mu.RUnlock()
	if engine == nil {
		_ = s.Refresh(ctx, false)
		s.mu.RLock()
		engine, loadErr = s.engine, s.loadErr
		s.mu.RUnlock()
	}
	if loadErr != nil {
		resp.Err = loadErr.Error()
	}
	if engine == nil {
		if resp.Err == "" {
			resp.Err = "search index unavailable"
		}
		metrics.ObserveSearch("error", time.Since(started))
		return resp
	}

	resp.Results = engine.Search(query)
	status := "ok"
	switch {
	case resp.Err != "":
		status = "partial"
	case len(resp.Results) == 0:
		status = "empty"
	}
	metrics.ObserveSearch(status, time.Since(started))
	s.logger.Debug("search served",
		zap.String("query", query),
		zap.Int("results", len(resp.Results)),
		zap.String("status", status),
	)
	return resp
}

// Stats reports the loaded snapshot; zero values before the first load.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{LoadedAt: s.loadedAt}
	if s.engine != nil {
		st.Documents = s.engine.Index().Len()
		st.Terms = s.engine.Index().Terms()
	}
	if s.loadErr != nil {
		st.LoadError = s.loadErr.Error()
	}
	return st
}

// Index returns the current snapshot, or nil before the first load.
func (s *Service) Index() *index.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return nil
	}
	return s.engine.Index()
}

// Page is one page of a result list.
type Page struct {
	Results []Result `json:"results"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
	Total   int      `json:"total"`
	Pages   int      `json:"pages"`
}

// Paginate slices results into 1-based pages. Out-of-range pages are empty.
func Paginate(results []Result, page, perPage int) Page {
	if perPage <= 0 {
		perPage = 10
	}
	if page <= 0 {
		page = 1
	}
	total := len(results)
	p := Page{
		Results: []Result{},
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
	}
	start := (page - 1) * perPage
	if start >= total {
		return p
	}
	end := min(start+perPage, total)
	p.Results = results[start:end]
	return p
}
