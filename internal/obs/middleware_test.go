package obs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("paywindow", registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Post("/notify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notify", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/notify", "202")))
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))

	again := obs.NewHTTPMetrics("paywindow", registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal, "already registered collectors are reused")
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "json", "debug")

	r := chi.NewRouter()
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/notify", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.Header.Set("Origin", "https://pay.example")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "/notify", entry["route"])
	require.Equal(t, "https://pay.example", entry["origin"])
	require.EqualValues(t, 200, entry["status"])
	require.EqualValues(t, 2, entry["bytes"])
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "json", "warn")
	logger.Info().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Warn().Msg("shown")
	require.Contains(t, buf.String(), "shown")

	fallback := obs.NewLogger(&buf, "json", "nonsense")
	require.Equal(t, "info", fallback.GetLevel().String())
}

func TestRoutePatternContext(t *testing.T) {
	ctx := obs.WithRoutePattern(context.Background(), "/health/ready")
	require.Equal(t, "/health/ready", obs.RoutePatternFromContext(ctx))
	require.Empty(t, obs.RoutePatternFromContext(context.Background()))
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
