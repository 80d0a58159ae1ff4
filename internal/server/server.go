// Package server exposes a read-only diagnostics HTTP surface over a page
// store.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

type Server struct {
	cfg     config.ServerConfig
	store   *pagefile.Store
	tel     *telemetry.Telemetry
	logger  *zap.Logger
	router  *chi.Mux
	limiter *rate.Limiter
	started time.Time
}

func NewServer(cfg config.ServerConfig, store *pagefile.Store, tel *telemetry.Telemetry, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		tel:     tel,
		logger:  logger.Component(log, "http"),
		router:  chi.NewRouter(),
		started: time.Now(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	s.router.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/roots", s.handleRoots)
	s.router.Get("/trees/{name}", s.handleTree)
	s.router.Get("/trees/{name}/keys/{key}", s.handleTreeGet)
	s.router.Get("/tables/{name}", s.handleTable)
	s.router.With(s.throttle).Get("/pages/{pid}", s.handlePage)
	s.router.Method(http.MethodGet, "/metrics", s.tel.Handler())
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down diagnostics server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "too many page requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
