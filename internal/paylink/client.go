package paylink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/paywindow/internal/apperr"
	"github.com/noah-isme/paywindow/internal/obs"
	"github.com/noah-isme/paywindow/internal/resilience"
)

const (
	defaultIssuer   = "paywindow"
	defaultAudience = "payment-api"
	tokenTTL        = time.Minute
)

// APIError is a non-success response from the payment-link API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("paylink: api responded %d", e.StatusCode)
	}
	return fmt.Sprintf("paylink: api responded %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Validator   *validator.Validate
	Breaker     *resilience.Breaker
	Logger      zerolog.Logger
	// Transport overrides the base round tripper wrapped by otelhttp.
	Transport http.RoundTripper
	Now       func() time.Time
}

// Client creates and lists payment links.
type Client struct {
	baseURL  *url.URL
	secret   []byte
	http     resilience.HTTPClient
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("paylink: invalid base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("paylink: api secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: base,
		secret:  []byte(cfg.Secret),
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     cfg.Breaker,
			Target:      "payment_api",
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: attempts,
			Jitter:      0.2,
			Timeout:     timeout,
		},
		validate: v,
		logger:   cfg.Logger,
		now:      now,
	}, nil
}

// Create registers a new payment link.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Link, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := c.check(req); err != nil {
		obs.ObservePaymentLink("create", "invalid")
		return Link{}, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(c.now()) {
		obs.ObservePaymentLink("create", "invalid")
		return Link{}, apperr.New(apperr.ErrValidation, "expires_at must be in the future",
			map[string]any{"fields": map[string]string{"ExpiresAt": "future"}})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Link{}, fmt.Errorf("paylink: encode request: %w", err)
	}
	var link Link
	if err := c.do(ctx, "create", http.MethodPost, "/payment-links", nil, body, &link); err != nil {
		return Link{}, err
	}
	if strings.TrimSpace(link.URL) == "" {
		obs.ObservePaymentLink("create", "error")
		return Link{}, errors.New("paylink: provider returned a link without url")
	}
	evt := c.logger.Info().Str("link_id", link.ID)
	if link.Amount > 0 {
		evt = evt.Str("amount", FormatAmount(link.Amount, link.Currency))
	}
	evt.Msg("payment_link_created")
	return link, nil
}

// List returns one page of payment links, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) (Page, error) {
	if err := c.check(opts); err != nil {
		obs.ObservePaymentLink("list", "invalid")
		return Page{}, err
	}
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	var page Page
	if err := c.do(ctx, "list", http.MethodGet, "/payment-links", q, nil, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

func (c *Client) check(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.New(apperr.ErrValidation, err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperr.New(apperr.ErrValidation, "invalid payment link request", map[string]any{"fields": fields})
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		obs.ObservePaymentLink(op, "error")
		return fmt.Errorf("paylink: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		obs.ObservePaymentLink(op, "rejected")
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		obs.ObservePaymentLink(op, "error")
		return fmt.Errorf("paylink: decode %s response: %w", op, err)
	}
	obs.ObservePaymentLink(op, "ok")
	return nil
}

func (c *Client) token() (string, error) {
	now := c.now()
	tok, err := jwt.NewBuilder().
		Issuer(defaultIssuer).
		Audience([]string{defaultAudience}).
		IssuedAt(now).
		Expiration(now.Add(tokenTTL)).
		Build()
	if err != nil {
		return "", fmt.Errorf("paylink: build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, c.secret))
	if err != nil {
		return "", fmt.Errorf("paylink: sign token: %w", err)
	}
	return string(signed), nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: payload.Error.Code, Message: payload.Error.Message}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return &apperr.Error{
			Code:    apperr.Kind(apperr.ErrValidation),
			Message: apiErr.Error(),
			Err:     errors.Join(apperr.ErrValidation, apiErr),
		}
	}
	return apiErr
}
