package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/app"
	"github.com/JakeFAU/topical-search/internal/id/uuid"
	"github.com/JakeFAU/topical-search/internal/metrics"
	"github.com/JakeFAU/topical-search/internal/search"
	"github.com/JakeFAU/topical-search/internal/store"
)

const (
	defaultPerPage = 10
	maxPerPage     = 50
	requestTimeout = 60 * time.Second
)

// Searcher answers free-text queries.
type Searcher interface {
	Search(ctx context.Context, query string) search.Response
}

// CrawlController triggers and reports on background crawl runs.
type CrawlController interface {
	TriggerCrawl(ctx context.Context, force bool) (string, error)
	Status(ctx context.Context) (app.CrawlStatus, error)
	Ready(ctx context.Context) error
}

// Config controls Server behavior.
type Config struct {
	// APIKey, when set, is required on crawl routes.
	APIKey  string
	PerPage int
}

// Server wires HTTP handlers to the search service and crawl worker.
type Server struct {
	router   chi.Router
	searcher Searcher
	crawls   CrawlController
	runs     *RunHandler
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	searcher Searcher,
	crawls CrawlController,
	runs store.RunRepository,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	s := &Server{
		searcher: searcher,
		crawls:   crawls,
		runs:     NewRunHandler(runs, logger.Named("runs")),
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", s.search)
		r.Route("/crawl", func(r chi.Router) {
			if cfg.APIKey != "" {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/", s.triggerCrawl)
			r.Get("/status", s.crawlStatus)
			r.Get("/runs", s.runs.ListRuns)
			r.Get("/runs/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.crawls.Ready(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchResponse struct {
	Query string `json:"query"`
	search.Page
	Error string `json:"error,omitempty"`
}

// search handles GET /v1/search?q=&page=&per_page=. Store failures are
// reported in the "error" field of a 200 response with whatever results the
// readable documents produced.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePositive(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	perPage, err := parsePositive(q.Get("per_page"), s.cfg.PerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid per_page")
		return
	}
	perPage = min(perPage, maxPerPage)

	query := strings.TrimSpace(q.Get("q"))
	resp := s.searcher.Search(r.Context(), query)
	writeJSON(w, http.StatusOK, searchResponse{
		Query: query,
		Page:  search.Paginate(resp.Results, page, perPage),
		Error: resp.Err,
	})
}

type crawlRequest struct {
	Force bool `json:"force"`
}

// triggerCrawl handles POST /v1/crawl. Force comes from the JSON body or the
// "force" query parameter.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force")
			return
		}
		req.Force = force
	}

	runID, err := s.crawls.TriggerCrawl(r.Context(), req.Force)
	if err != nil {
		if errors.Is(err, app.ErrCrawlInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("trigger crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "force": req.Force})
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.crawls.Status(r.Context())
	if err != nil {
		s.logger.Error("crawl status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl status")
		return
	}
	if status.Active == nil {
		status.Active = []string{}
	}
	writeJSON(w, http.StatusOK, status)
}

func parsePositive(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return val, nil
}

type requestIDKey struct{}

// RequestID returns the request ID attached by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
