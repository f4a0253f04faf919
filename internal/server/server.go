// Package server exposes the sync jobs over HTTP.
//
// Routes:
//
//	GET  /              liveness message
//	GET  /healthz       health check
//	GET  /metrics       Prometheus metrics
//	POST /load          backfill with warehouse credentials from configuration
//	POST /update        incremental catch-up, same credentials
//	POST /load/local    backfill with a service account key in the body
//	POST /update/local  incremental catch-up, same
//
// Jobs run synchronously within the request. Failures are answered with a
// generic 500; the detail goes to the log.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/internal/jobs"
	"github.com/ajitpratap0/metasync/pkg/config"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/observability"
)

// Server serves the job endpoints.
type Server struct {
	cfg    config.ServerConfig
	obs    config.ObservabilityConfig
	runner *jobs.Runner
	logger *zap.Logger
	router chi.Router
}

// New creates a server that runs jobs with runner.
func New(cfg *config.Config, runner *jobs.Runner, log *zap.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		cfg:    cfg.Server,
		obs:    cfg.Observability,
		runner: runner,
		logger: log.With(zap.String("component", "server")),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	if s.obs.Tracing {
		r.Use(observability.TracingMiddleware(s.obs.ServiceName))
	}

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	if s.obs.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/load", s.handleLoad(false))
	r.Post("/update", s.handleUpdate(false))
	r.Post("/load/local", s.handleLoad(true))
	r.Post("/update/local", s.handleUpdate(true))
	return r
}

// requestLogger logs each request with the chi request id and carries the
// id on the context for job logs.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimiddleware.GetReqID(r.Context())
		ctx := logger.WithRequestID(r.Context(), reqID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
