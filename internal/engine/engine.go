// Package engine is the public surface of the payment window correlation
// engine. An Engine opens payment windows, tracks each attempt as a session
// and settles it exactly once from whichever source reports first: a provider
// notification, a manual window close, a deadline, or teardown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/paywindow/internal/apperr"
	"github.com/noah-isme/paywindow/internal/broker"
	"github.com/noah-isme/paywindow/internal/events"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/paylink"
	"github.com/noah-isme/paywindow/internal/refstore"
	"github.com/noah-isme/paywindow/internal/session"
	"github.com/noah-isme/paywindow/internal/watchdog"
	"github.com/noah-isme/paywindow/internal/window"
)

// Detail reasons attached to closedManually outcomes produced by the engine itself.
const (
	ReasonTeardown  = "teardown"
	ReasonAbandoned = "abandoned"
)

// Windows opens and supervises payment windows. *window.Controller implements it.
type Windows interface {
	Open(ctx context.Context, url string, opts window.Options) (window.Handle, error)
	IsClosed(h window.Handle) bool
	Close(h window.Handle) error
}

// LinkCreator creates hosted payment links. *paylink.Client implements it.
type LinkCreator interface {
	Create(ctx context.Context, req paylink.CreateRequest) (paylink.Link, error)
}

// Config wires an Engine.
type Config struct {
	Windows    Windows
	References refstore.Store
	Origins    broker.OriginMatcher
	Replay     broker.ReplayGuard
	ReplayTTL  time.Duration
	Links      LinkCreator

	PollInterval   time.Duration
	SessionTimeout time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// Engine correlates payment windows with their outcomes. The zero value is not
// usable; construct one with New. Engines share no state with each other.
type Engine struct {
	windows  Windows
	refs     refstore.Store
	links    LinkCreator
	registry *session.Registry
	bus      *events.Bus
	dog      *watchdog.Watchdog
	broker   *broker.Broker
	logger   zerolog.Logger
	tracer   trace.Tracer

	// sessions settled by CloseAllPaymentSessions, whose windows are closed in bulk
	tearingDown sync.Map

	mu        sync.RWMutex
	destroyed bool
}

// New builds an engine from cfg. A nil References store falls back to an
// in-memory slot.
func New(cfg Config) (*Engine, error) {
	if cfg.Windows == nil {
		return nil, errors.New("engine: window controller is required")
	}
	refs := cfg.References
	if refs == nil {
		refs = refstore.NewMemory(0)
	}
	logger := cfg.Logger.With().Str("component", "paywindow").Logger()

	e := &Engine{
		windows: cfg.Windows,
		refs:    refs,
		links:   cfg.Links,
		bus:     events.NewBus(logger),
		logger:  logger,
		tracer:  otel.Tracer("paywindow.Engine"),
	}
	e.registry = session.NewRegistry(session.Config{
		Now:       cfg.Now,
		OnCreated: e.sessionCreated,
		OnSettled: e.sessionSettled,
	})
	e.dog = &watchdog.Watchdog{
		Registry:     e.registry,
		Windows:      cfg.Windows,
		References:   refs,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.SessionTimeout,
		Logger:       logger,
		Now:          cfg.Now,
	}
	e.broker = &broker.Broker{
		Origins:    cfg.Origins,
		Registry:   e.registry,
		Bus:        e.bus,
		References: refs,
		Replay:     cfg.Replay,
		ReplayTTL:  cfg.ReplayTTL,
		Logger:     logger,
	}
	return e, nil
}

// Begin opens a payment window on targetURL and returns the pending session
// without waiting for it. A window that cannot be opened fails immediately
// with apperr.ErrPopupBlocked and no session is created.
func (e *Engine) Begin(ctx context.Context, targetURL string, opts window.Options) (*session.Session, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Begin")
	defer span.End()

	if err := validateTarget(targetURL); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.destroyed {
		return nil, apperr.New(apperr.ErrEngineDestroyed, "", nil)
	}

	// a stashed reference only belongs to sessions that were pending when it arrived
	if e.registry.Len() == 0 {
		if err := e.refs.Clear(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("clear stale payment reference")
		}
	}

	h, err := e.windows.Open(ctx, targetURL, opts)
	if err != nil {
		obs.ObserveWindowLaunch("blocked")
		span.RecordError(err)
		span.SetStatus(codes.Error, "window blocked")
		e.logger.Warn().Err(err).Str("target_url", targetURL).Msg("payment_window_blocked")
		return nil, err
	}
	obs.ObserveWindowLaunch("opened")

	s := e.registry.Create(targetURL, h)
	s.OnSettle(func(out session.Outcome) {
		if _, ok := e.tearingDown.LoadAndDelete(s.ID); ok {
			return
		}
		if err := e.windows.Close(h); err != nil {
			e.logger.Warn().Err(err).Str("session_id", s.ID).Msg("close payment window")
		}
	})
	e.dog.Watch(s)

	span.SetAttributes(attribute.String("session.id", s.ID))
	return s, nil
}

// OpenPaymentSession opens a payment window and blocks until the session
// settles. Successful outcomes return a nil error; every other outcome returns
// the outcome together with its apperr sentinel. Cancelling ctx abandons the
// session: its window is closed and ctx.Err() is returned.
func (e *Engine) OpenPaymentSession(ctx context.Context, targetURL string, opts window.Options) (session.Outcome, error) {
	s, err := e.Begin(ctx, targetURL, opts)
	if err != nil {
		return session.Outcome{}, err
	}
	out, err := s.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		abandoned := e.registry.Settle(s.ID, session.Outcome{
			Kind:   session.KindClosedManually,
			Detail: map[string]any{"reason": ReasonAbandoned},
		})
		if abandoned {
			return session.Outcome{}, ctxErr
		}
		// settled concurrently by another source
		out, _ = s.Outcome()
		return out, out.Err()
	}
	return out, err
}

// Checkout creates a payment link and opens a session on its URL.
func (e *Engine) Checkout(ctx context.Context, req paylink.CreateRequest, opts window.Options) (paylink.Link, session.Outcome, error) {
	if e.links == nil {
		return paylink.Link{}, session.Outcome{}, errors.New("engine: payment link client not configured")
	}
	ctx, span := e.tracer.Start(ctx, "Engine.Checkout")
	defer span.End()

	link, err := e.links.Create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create payment link")
		return paylink.Link{}, session.Outcome{}, fmt.Errorf("engine: create payment link: %w", err)
	}
	span.SetAttributes(attribute.String("payment_link.id", link.ID))
	out, err := e.OpenPaymentSession(ctx, link.URL, opts)
	return link, out, err
}

// On subscribes h to topic ("success", "error" or "cancel").
func (e *Engine) On(topic string, h events.Handler) (events.SubscriptionID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.destroyed {
		return 0, apperr.New(apperr.ErrEngineDestroyed, "", nil)
	}
	return e.bus.Subscribe(topic, h)
}

// Off removes the subscription identified by id from topic.
func (e *Engine) Off(topic string, id events.SubscriptionID) bool {
	return e.bus.Unsubscribe(topic, id)
}

// CloseAllPaymentSessions force-closes every tracked window and settles each
// pending session as closedManually with reason "teardown".
func (e *Engine) CloseAllPaymentSessions(ctx context.Context) error {
	_, span := e.tracer.Start(ctx, "Engine.CloseAllPaymentSessions")
	defer span.End()

	var (
		handles []window.Handle
		ids     []string
	)
	settled := e.registry.SettleAll(func(s *session.Session) session.Outcome {
		handles = append(handles, s.Window)
		ids = append(ids, s.ID)
		e.tearingDown.Store(s.ID, struct{}{})
		return session.Outcome{
			Kind:   session.KindClosedManually,
			Detail: map[string]any{"reason": ReasonTeardown},
		}
	})
	for _, id := range ids {
		e.tearingDown.Delete(id)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, h := range handles {
		g.Go(func() error {
			return e.windows.Close(h)
		})
	}
	err := g.Wait()
	e.logger.Info().Int("settled", settled).Msg("payment_sessions_closed")
	if err != nil {
		return fmt.Errorf("engine: close windows: %w", err)
	}
	return nil
}

// Destroy tears the engine down: every session is closed as in
// CloseAllPaymentSessions, all subscriptions are dropped and the stashed
// reference is cleared. Later calls to Begin or On fail with
// apperr.ErrEngineDestroyed. Destroy is idempotent.
func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	e.mu.Unlock()

	err := e.CloseAllPaymentSessions(ctx)
	e.bus.Clear()
	if clearErr := e.refs.Clear(ctx); clearErr != nil {
		err = errors.Join(err, fmt.Errorf("engine: clear reference: %w", clearErr))
	}
	e.logger.Info().Msg("engine_destroyed")
	return err
}

// Handler returns the notification endpoint for the provider's return page.
func (e *Engine) Handler() http.Handler {
	return http.HandlerFunc(e.broker.Handle)
}

// Broker exposes the notification broker for in-process delivery.
func (e *Engine) Broker() *broker.Broker { return e.broker }

// Pending reports the number of unsettled sessions.
func (e *Engine) Pending() int { return e.registry.Len() }

// Session returns a pending session by id.
func (e *Engine) Session(id string) (*session.Session, bool) { return e.registry.Get(id) }

func (e *Engine) sessionCreated(s *session.Session) {
	if obs.SessionsOpenedTotal != nil {
		obs.SessionsOpenedTotal.Inc()
	}
	if obs.SessionsPending != nil {
		obs.SessionsPending.Inc()
	}
	e.logger.Info().Str("session_id", s.ID).Str("target_url", s.TargetURL).Msg("session_opened")
}

func (e *Engine) sessionSettled(s *session.Session, out session.Outcome) {
	kind := string(out.Kind)
	if obs.SessionsPending != nil {
		obs.SessionsPending.Dec()
	}
	if obs.SessionsSettledTotal != nil {
		obs.SessionsSettledTotal.WithLabelValues(kind).Inc()
	}
	if obs.SessionDuration != nil && !s.CreatedAt.IsZero() {
		obs.SessionDuration.WithLabelValues(kind).Observe(time.Since(s.CreatedAt).Seconds())
	}
	evt := e.logger.Info().Str("session_id", s.ID).Str("outcome", kind)
	if out.Reference != "" {
		evt = evt.Str("reference", out.Reference)
	}
	if err := out.Err(); err != nil {
		evt = evt.Str("error_kind", apperr.Kind(err))
	}
	evt.Msg("session_settled")
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return apperr.New(apperr.ErrValidation, fmt.Sprintf("invalid payment url %q", raw), nil)
	}
	return nil
}
