package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/broker"
	"github.com/noah-isme/paywindow/internal/engine"
	"github.com/noah-isme/paywindow/internal/health"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/ratelimit"
	"github.com/noah-isme/paywindow/internal/server"
	"github.com/noah-isme/paywindow/internal/session"
	"github.com/noah-isme/paywindow/internal/window"
	"github.com/noah-isme/paywindow/internal/window/windowtest"
)

const providerOrigin = "https://pay.example"

func acceptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

func post(h http.Handler, origin, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	req.Header.Set("Origin", origin)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterCORSPreflight(t *testing.T) {
	h := server.NewRouter(server.Config{
		Notify:  acceptHandler(),
		Origins: broker.MustParseOrigins(providerOrigin),
		Logger:  zerolog.Nop(),
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/notify", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	ok := preflight(providerOrigin)
	require.Equal(t, providerOrigin, ok.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight("https://evil.example")
	require.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterNotifyLimits(t *testing.T) {
	store, err := ratelimit.NewStore(nil, "")
	require.NoError(t, err)
	limiter, err := ratelimit.NewFixed(store, "2-M")
	require.NoError(t, err)

	h := server.NewRouter(server.Config{
		Notify:  acceptHandler(),
		Origins: broker.MustParseOrigins(providerOrigin),
		Limiter: limiter,
		MaxBody: 32,
		Logger:  zerolog.Nop(),
	})

	require.Equal(t, http.StatusRequestEntityTooLarge, post(h, providerOrigin, strings.Repeat("x", 64)).Code)
	require.Equal(t, http.StatusAccepted, post(h, providerOrigin, `{}`).Code)
	require.Equal(t, http.StatusTooManyRequests, post(h, providerOrigin, `{}`).Code)
}

func TestRouterHealthMetricsAndFallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := server.NewRouter(server.Config{
		Notify:   acceptHandler(),
		Health:   health.Handler{},
		Metrics:  obs.NewHTTPMetrics("paywindow_server_test", reg),
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	require.Equal(t, http.StatusOK, get("/health/live").Code)
	require.Equal(t, http.StatusOK, get("/health/ready").Code)

	missing := get("/nope")
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Contains(t, missing.Body.String(), "NOT_FOUND")

	require.Equal(t, http.StatusMethodNotAllowed, get("/notify").Code)

	metrics := get("/metrics")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "paywindow_server_test_http_requests_total")
}

func TestCallbackServerSettlesSession(t *testing.T) {
	launcher := &windowtest.Launcher{}
	e, err := engine.New(engine.Config{
		Windows:        &window.Controller{Launcher: launcher, Logger: zerolog.Nop()},
		Origins:        broker.MustParseOrigins(providerOrigin),
		PollInterval:   10 * time.Millisecond,
		SessionTimeout: time.Minute,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Destroy(context.Background()) })

	srv, err := server.Listen("127.0.0.1:0", server.NewRouter(server.Config{
		Notify:  e.Handler(),
		Origins: broker.MustParseOrigins(providerOrigin),
		Health:  health.Handler{Sessions: e},
		Logger:  zerolog.Nop(),
	}), zerolog.Nop())
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	s, err := e.Begin(context.Background(), "https://pay.example/checkout/1", window.DefaultOptions())
	require.NoError(t, err)

	ready, err := http.Get("http://" + srv.Addr() + "/health/ready")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(ready.Body).Decode(&status))
	_ = ready.Body.Close()
	require.Equal(t, float64(1), status["pending_sessions"])

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/notify",
		strings.NewReader(`{"type":"payment:success","data":{"reference":"R123"}}`))
	require.NoError(t, err)
	req.Header.Set("Origin", providerOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, session.KindCompleted, out.Kind)
	require.Equal(t, "R123", out.Reference)
	require.Eventually(t, launcher.Last().ForceClosed, time.Second, 5*time.Millisecond)
}
