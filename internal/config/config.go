package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv       string
	CallbackAddr string
	RedisURL     string

	ProviderOrigins   []string
	PaymentAPIBaseURL string
	PaymentAPISecret  string
	PaymentAPITimeout time.Duration

	SessionPollInterval time.Duration
	SessionTimeout      time.Duration
	ReferenceTTL        time.Duration

	Window WindowConfig

	NotifyRateLimit string
	NotifyReplayTTL time.Duration

	Obs ObsConfig
}

// WindowConfig describes how payment windows are launched.
type WindowConfig struct {
	Width        int
	Height       int
	Centered     bool
	Name         string
	BrowserPath  string
	ProfileDir   string
	ScreenWidth  int
	ScreenHeight int
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	EnableTracing        bool
	OTLPEndpoint         string
	TracingSamplingRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		CallbackAddr:        valueOrDefault(k.String("CALLBACK_ADDR"), "127.0.0.1:8787"),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		ProviderOrigins:     splitAndTrim(k.String("PROVIDER_ORIGINS")),
		PaymentAPIBaseURL:   strings.TrimSpace(k.String("PAYMENT_API_BASE_URL")),
		PaymentAPISecret:    k.String("PAYMENT_API_SECRET"),
		PaymentAPITimeout:   parseDuration(k.String("PAYMENT_API_TIMEOUT"), "10s"),
		SessionPollInterval: parseDuration(k.String("SESSION_POLL_INTERVAL"), "1s"),
		SessionTimeout:      parseDuration(k.String("SESSION_TIMEOUT"), "30m"),
		ReferenceTTL:        parseDuration(k.String("REFERENCE_TTL"), "10m"),
		Window: WindowConfig{
			Width:        parseInt(k.String("WINDOW_WIDTH"), 600),
			Height:       parseInt(k.String("WINDOW_HEIGHT"), 700),
			Centered:     parseBoolDefault(k.String("WINDOW_CENTERED"), true),
			Name:         valueOrDefault(k.String("WINDOW_NAME"), "paywindow"),
			BrowserPath:  valueOrDefault(k.String("BROWSER_PATH"), defaultBrowserPath()),
			ProfileDir:   valueOrDefault(k.String("BROWSER_PROFILE_DIR"), defaultProfileDir()),
			ScreenWidth:  parseInt(k.String("SCREEN_WIDTH"), 1920),
			ScreenHeight: parseInt(k.String("SCREEN_HEIGHT"), 1080),
		},
		NotifyRateLimit: valueOrDefault(k.String("NOTIFY_RATE_LIMIT"), "60-M"),
		NotifyReplayTTL: parseDuration(k.String("NOTIFY_REPLAY_TTL"), "10m"),
		Obs: ObsConfig{
			LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "paywindow"),
			EnableTracing:        parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if len(cfg.ProviderOrigins) == 0 {
		return nil, errors.New("PROVIDER_ORIGINS is required")
	}
	if cfg.SessionPollInterval <= 0 {
		return nil, errors.New("SESSION_POLL_INTERVAL must be positive")
	}
	if cfg.SessionTimeout < cfg.SessionPollInterval {
		return nil, errors.New("SESSION_TIMEOUT must not be shorter than SESSION_POLL_INTERVAL")
	}
	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		return nil, errors.New("WINDOW_WIDTH and WINDOW_HEIGHT must be positive")
	}

	return cfg, nil
}

// RequirePaymentAPI reports whether the payment-link API is configured.
func (c *Config) RequirePaymentAPI() error {
	if c.PaymentAPIBaseURL == "" {
		return errors.New("PAYMENT_API_BASE_URL is required")
	}
	if strings.TrimSpace(c.PaymentAPISecret) == "" {
		return errors.New("PAYMENT_API_SECRET is required")
	}
	return nil
}

// RequireBrowser reports whether a browser executable is available for launching windows.
func (c *Config) RequireBrowser() error {
	if strings.TrimSpace(c.Window.BrowserPath) == "" {
		return fmt.Errorf("BROWSER_PATH is required: none of %s found on PATH", strings.Join(browserCandidates, ", "))
	}
	return nil
}

// CallbackURL returns the base URL the provider's return page posts to.
func (c *Config) CallbackURL() string {
	addr := strings.TrimSpace(c.CallbackAddr)
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

var browserCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"microsoft-edge",
	"msedge",
}

func defaultBrowserPath() string {
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func defaultProfileDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "paywindow", "profiles")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
