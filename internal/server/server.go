// Package server runs the HTTP API and the background crawl worker until the
// process is asked to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/api"
	"github.com/JakeFAU/topical-search/internal/app"
)

const (
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Server owns the HTTP listener lifecycle. The App it serves is closed by the
// caller.
type Server struct {
	app    *app.App
	api    *api.Server
	logger *zap.Logger
}

// New wires the API routes onto a.
func New(a *app.App, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := a.Config()
	apiServer := api.NewServer(
		a,
		a,
		a.Runs(),
		api.Config{APIKey: cfg.Server.APIKey, PerPage: cfg.Search.PerPage},
		logger.Named("api"),
	)
	return &Server{app: a, api: apiServer, logger: logger}
}

// Handler exposes the routed API, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Run listens on the configured port and blocks until ctx is canceled or the
// process receives SIGINT/SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.app.Config().Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.app.SearchService().Load(ctx); err != nil {
		s.logger.Warn("initial index load failed", zap.Error(err))
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.logger.Info("dispatcher started")
		s.app.Dispatcher().Run(ctx)
	}()

	srv := &http.Server{
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutdown initiated")

	timeout := s.app.Config().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		errs = append(errs, errors.New("crawl worker did not stop before shutdown timeout"))
	}
	select {
	case err := <-serveErr:
		errs = append(errs, fmt.Errorf("serve http: %w", err))
	default:
	}
	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
