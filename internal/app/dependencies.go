// Package app assembles the engine, its collaborators and the callback server
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/paywindow/internal/broker"
	"github.com/noah-isme/paywindow/internal/config"
	"github.com/noah-isme/paywindow/internal/engine"
	"github.com/noah-isme/paywindow/internal/health"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/paylink"
	"github.com/noah-isme/paywindow/internal/ratelimit"
	"github.com/noah-isme/paywindow/internal/refstore"
	"github.com/noah-isme/paywindow/internal/resilience"
	"github.com/noah-isme/paywindow/internal/server"
	"github.com/noah-isme/paywindow/internal/window"
)

// Dependencies holds everything a paywindow process shares across commands.
type Dependencies struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
	Registry     prometheus.Registerer
	Engine       *engine.Engine
	// Links is nil unless the payment-link API is configured.
	Links  *paylink.Client
	Router http.Handler

	shutdownTracer func(context.Context) error
}

// Options tweaks Build for tests and embedding applications.
type Options struct {
	// Windows replaces the browser-backed controller.
	Windows engine.Windows
	// Registry defaults to the Prometheus default registerer.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
}

// Build wires the process from cfg. Callers must Close the result.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	d := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		Registry:  opts.Registry,
	}
	if d.Registry == nil {
		d.Registry = prometheus.DefaultRegisterer
	}

	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:       cfg.Obs.EnableTracing,
		ServiceName:   "paywindow",
		Endpoint:      cfg.Obs.OTLPEndpoint,
		SamplingRatio: cfg.Obs.TracingSamplingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdown = func(context.Context) error { return nil }
	}
	d.shutdownTracer = shutdown

	ns := cfg.Obs.MetricsNamespace
	obs.MustRegisterDomainMetrics(ns, d.Registry)
	resilience.MustRegisterMetrics(ns, d.Registry)

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			_ = d.Close(ctx)
			return nil, err
		}
		d.Redis = rdb
	}

	var refs refstore.Store = refstore.NewMemory(cfg.ReferenceTTL)
	var replay broker.ReplayGuard
	if d.Redis != nil {
		refs = refstore.Redis{Client: d.Redis, TTL: cfg.ReferenceTTL}
		replay = broker.RedisReplayGuard{Client: d.Redis}
	}

	origins, err := broker.ParseOrigins(cfg.ProviderOrigins)
	if err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("app: provider origins: %w", err)
	}

	if cfg.RequirePaymentAPI() == nil {
		d.Links, err = paylink.NewClient(paylink.Config{
			BaseURL:   cfg.PaymentAPIBaseURL,
			Secret:    cfg.PaymentAPISecret,
			Timeout:   cfg.PaymentAPITimeout,
			Validator: d.Validator,
			Breaker: resilience.NewBreaker(resilience.BreakerSettings{
				Target:       "payment_api",
				MinRequests:  5,
				FailureRatio: 0.5,
				OpenFor:      30 * time.Second,
				Logger:       logger,
			}),
			Logger: logger,
		})
		if err != nil {
			_ = d.Close(ctx)
			return nil, err
		}
	}

	windows := opts.Windows
	if windows == nil {
		windows = &window.Controller{
			Launcher: window.BrowserLauncher{
				Path:       cfg.Window.BrowserPath,
				ProfileDir: cfg.Window.ProfileDir,
			},
			Screen: window.Screen{Width: cfg.Window.ScreenWidth, Height: cfg.Window.ScreenHeight},
			Name:   cfg.Window.Name,
			Logger: logger,
		}
	}

	engineCfg := engine.Config{
		Windows:        windows,
		References:     refs,
		Origins:        origins,
		Replay:         replay,
		ReplayTTL:      cfg.NotifyReplayTTL,
		PollInterval:   cfg.SessionPollInterval,
		SessionTimeout: cfg.SessionTimeout,
		Logger:         logger,
	}
	if d.Links != nil {
		engineCfg.Links = d.Links
	}
	d.Engine, err = engine.New(engineCfg)
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}

	d.LimiterStore, err = ratelimit.NewStore(d.Redis, "")
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	notifyLimiter, err := ratelimit.NewFixed(d.LimiterStore, cfg.NotifyRateLimit)
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}

	hh := health.Handler{Sessions: d.Engine}
	if d.Redis != nil {
		hh.Checker = redisChecker{client: d.Redis}
	}
	d.Router = server.NewRouter(server.Config{
		Notify:   d.Engine.Handler(),
		Origins:  origins,
		Health:   hh,
		Limiter:  notifyLimiter,
		Metrics:  obs.NewHTTPMetrics(ns, d.Registry),
		Gatherer: opts.Gatherer,
		Tracing:  cfg.Obs.EnableTracing,
		Logger:   logger,
	})
	return d, nil
}

// WindowOptions returns the configured window geometry.
func (d *Dependencies) WindowOptions() window.Options {
	return window.Options{
		Width:    d.Config.Window.Width,
		Height:   d.Config.Window.Height,
		Centered: d.Config.Window.Centered,
	}
}

// Close destroys the engine and releases Redis and the tracer provider.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Engine != nil {
		if err := d.Engine.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.shutdownTracer != nil {
		if err := d.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewRedis connects and instruments a Redis client.
func NewRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	return client, nil
}

type redisChecker struct {
	client *redis.Client
}

func (c redisChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
