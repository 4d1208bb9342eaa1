package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/app"
	"github.com/noah-isme/paywindow/internal/config"
	"github.com/noah-isme/paywindow/internal/session"
	"github.com/noah-isme/paywindow/internal/window"
	"github.com/noah-isme/paywindow/internal/window/windowtest"
)

const providerOrigin = "https://pay.example"

func testConfig(redisURL string) *config.Config {
	return &config.Config{
		AppEnv:              "test",
		CallbackAddr:        "127.0.0.1:0",
		RedisURL:            redisURL,
		ProviderOrigins:     []string{providerOrigin},
		SessionPollInterval: 10 * time.Millisecond,
		SessionTimeout:      time.Minute,
		ReferenceTTL:        time.Minute,
		Window:              config.WindowConfig{Width: 600, Height: 700, Centered: true, Name: "paywindow"},
		NotifyRateLimit:     "100-M",
		NotifyReplayTTL:     time.Minute,
		Obs:                 config.ObsConfig{MetricsNamespace: "paywindow_app_test"},
	}
}

func build(t *testing.T, cfg *config.Config) (*app.Dependencies, *windowtest.Launcher) {
	t.Helper()
	launcher := &windowtest.Launcher{}
	reg := prometheus.NewRegistry()
	deps, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{
		Windows:  &window.Controller{Launcher: launcher, Name: cfg.Window.Name, Logger: zerolog.Nop()},
		Registry: reg,
		Gatherer: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return deps, launcher
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	req.Header.Set("Origin", providerOrigin)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildWithRedisSettlesAndRejectsReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, launcher := build(t, testConfig("redis://"+mr.Addr()))
	require.NotNil(t, deps.Redis)
	require.Nil(t, deps.Links)

	s, err := deps.Engine.Begin(context.Background(), "https://pay.example/checkout/7", deps.WindowOptions())
	require.NoError(t, err)
	require.Equal(t, "paywindow", launcher.Last().Name())

	body := `{"type":"payment:success","data":{"reference":"R123"}}`
	require.Equal(t, http.StatusAccepted, post(deps.Router, body).Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, session.KindCompleted, out.Kind)
	require.Equal(t, "R123", out.Reference)

	require.Equal(t, http.StatusConflict, post(deps.Router, body).Code)

	rr := httptest.NewRecorder()
	deps.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"redis":"ok"`)
}

func TestBuildWithoutRedis(t *testing.T) {
	deps, _ := build(t, testConfig(""))
	require.Nil(t, deps.Redis)

	rr := httptest.NewRecorder()
	deps.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"redis":"disabled"`)

	rr = httptest.NewRecorder()
	deps.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestBuildWiresPaymentLinks(t *testing.T) {
	cfg := testConfig("")
	cfg.PaymentAPIBaseURL = "https://api.pay.example"
	cfg.PaymentAPISecret = "s3cret"
	deps, _ := build(t, cfg)
	require.NotNil(t, deps.Links)
}

func TestBuildRejectsBadInputs(t *testing.T) {
	cfg := testConfig("")
	cfg.ProviderOrigins = []string{"ftp://pay.example"}
	_, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{Windows: &window.Controller{}, Registry: prometheus.NewRegistry()})
	require.Error(t, err)

	cfg = testConfig("")
	cfg.NotifyRateLimit = "often"
	_, err = app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{Windows: &window.Controller{}, Registry: prometheus.NewRegistry()})
	require.Error(t, err)

	cfg = testConfig("redis://127.0.0.1:1")
	_, err = app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{Windows: &window.Controller{}, Registry: prometheus.NewRegistry()})
	require.Error(t, err)
}
