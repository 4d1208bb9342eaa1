// Package server hosts the loopback callback endpoint the provider's return
// page posts notifications to, alongside health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/paywindow/internal/broker"
	"github.com/noah-isme/paywindow/internal/common"
	"github.com/noah-isme/paywindow/internal/health"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/ratelimit"
	"github.com/noah-isme/paywindow/internal/security"
)

const defaultMaxBody = 64 << 10

// Config wires the callback router.
type Config struct {
	Notify  http.Handler
	Origins broker.OriginMatcher
	Health  health.Handler
	// Limiter throttles POST /notify. Nil disables throttling.
	Limiter ratelimit.Limiter
	// Metrics enables request metrics and /metrics when set.
	Metrics  *obs.HTTPMetrics
	Gatherer prometheus.Gatherer
	Tracing  bool
	MaxBody  int64
	Logger   zerolog.Logger
}

// NewRouter builds the chi router serving the callback surface.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return cfg.Origins.Match(origin)
		},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	if cfg.Metrics != nil {
		if cfg.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle("/metrics", promhttp.Handler())
		}
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	notify := r.With(security.BodyLimit{Max: maxBody}.Middleware)
	if cfg.Limiter != nil {
		logger := cfg.Logger
		notify = notify.With(ratelimit.Handler{
			Limiter: cfg.Limiter,
			OnError: func(err error) { logger.Warn().Err(err).Msg("notify_rate_limit_unavailable") },
		}.Middleware)
	}
	if cfg.Notify != nil {
		notify.Post("/notify", cfg.Notify.ServeHTTP)
	}
	return r
}

// Server is a callback server bound to a listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr so bind failures surface before any window is opened.
func Listen(addr string, h http.Handler, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}
	health.SetReady(true)
	return &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.Addr()).Msg("callback_server_starting")
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	health.SetReady(false)
	err := s.srv.Shutdown(ctx)
	s.logger.Info().Err(err).Msg("callback_server_stopped")
	return err
}
