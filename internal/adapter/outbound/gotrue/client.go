// Package gotrue implements session.Provider against a Supabase/GoTrue
// compatible auth service.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/session"
)

const (
	userPath    = "/auth/v1/user"
	refreshPath = "/auth/v1/token?grant_type=refresh_token"

	// DefaultTimeout bounds a single provider round-trip.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	// ErrMissingURL is returned by NewClient when no provider URL is set.
	ErrMissingURL = errors.New("provider url is required")
	// ErrMissingAnonKey is returned by NewClient when no public API key is set.
	ErrMissingAnonKey = errors.New("provider anon key is required")
)

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// MinRequests is the number of calls needed before the breaker may trip.
	MinRequests uint32
	// FailureRatio trips the breaker when reached.
	FailureRatio float64
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  5,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Config configures a Client.
type Config struct {
	// URL is the provider base URL, e.g. https://abc.supabase.co.
	URL string
	// AnonKey is the public API key sent as the apikey header.
	AnonKey string
	// CookieName overrides the name derived from URL.
	CookieName string
	// CookieSecure sets the Secure attribute on written cookies.
	CookieSecure bool
	// ExpiryMargin is how close to expiry a token is refreshed.
	ExpiryMargin time.Duration
	// Timeout bounds each HTTP round-trip.
	Timeout time.Duration
	Breaker BreakerConfig
}

// Client is a session.Provider backed by the GoTrue REST API.
// It holds no per-user state.
type Client struct {
	baseURL      string
	anonKey      string
	cookieName   string
	cookieOpts   session.CookieOptions
	expiryMargin time.Duration

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left unchanged.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger for refresh and breaker events.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, ErrMissingAnonKey
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid provider url %q", cfg.URL)
	}

	cookieName := cfg.CookieName
	if cookieName == "" {
		if cookieName, err = CookieNameFor(cfg.URL); err != nil {
			return nil, err
		}
	}
	margin := cfg.ExpiryMargin
	if margin <= 0 {
		margin = session.DefaultExpiryMargin
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		anonKey:      cfg.AnonKey,
		cookieName:   cookieName,
		cookieOpts:   DefaultCookieOptions(cfg.CookieSecure),
		expiryMargin: margin,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(cfg.Breaker, c.logger)
	return c, nil
}

func newBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-provider",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		// Rejected tokens are a client problem, not a provider outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, session.ErrInvalidSession)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// CookieName returns the session cookie name.
func (c *Client) CookieName() string {
	return c.cookieName
}

// BreakerState returns the circuit breaker state: closed, half-open or open.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// GetCurrentUser implements session.Provider. It reads the session cookie,
// refreshes the token pair when it is at or near expiry (writing the new
// session back through cookies), and revalidates the access token with
// the provider.
func (c *Client) GetCurrentUser(ctx context.Context, cookies session.CookieStore) (*auth.User, error) {
	raw, ok := readChunked(cookies, c.cookieName)
	if !ok {
		return nil, session.ErrNoSession
	}
	payload, err := decodeSession(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidSession, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: cookie has no access token", session.ErrInvalidSession)
	}
	if payload.ExpiresAt == 0 {
		if exp, expErr := tokenExpiry(payload.AccessToken); expErr == nil {
			payload.ExpiresAt = exp
		}
	}

	if payload.toSession().NeedsRefresh(c.now(), c.expiryMargin) {
		refreshed, refreshErr := c.refresh(ctx, payload.RefreshToken)
		if refreshErr != nil {
			if errors.Is(refreshErr, session.ErrInvalidSession) {
				removeChunked(cookies, c.cookieName, c.cookieOpts)
			}
			return nil, refreshErr
		}
		if err := c.storeSession(cookies, refreshed); err != nil {
			return nil, err
		}
		payload = refreshed
	}

	user, err := c.fetchUser(ctx, payload.AccessToken)
	if err != nil {
		return nil, err
	}
	user.SessionID = tokenSessionID(payload.AccessToken)
	return user, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*sessionPayload, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", session.ErrInvalidSession)
	}
	var out sessionPayload
	if err := c.call(ctx, http.MethodPost, refreshPath, refreshRequest{RefreshToken: refreshToken}, "", &out); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh returned an incomplete session", session.ErrProviderUnavailable)
	}
	if out.ExpiresAt == 0 && out.ExpiresIn > 0 {
		out.ExpiresAt = c.now().Unix() + out.ExpiresIn
	}
	c.logger.Debug("session refreshed", "expires_at", out.ExpiresAt)
	return &out, nil
}

func (c *Client) storeSession(cookies session.CookieStore, p *sessionPayload) error {
	value, err := encodeSession(p)
	if err != nil {
		return err
	}
	writeChunked(cookies, c.cookieName, value, c.cookieOpts)
	return nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var out userPayload
	if err := c.call(ctx, http.MethodGet, userPath, nil, accessToken, &out); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: user response has no id", session.ErrInvalidSession)
	}
	return out.toUser(), nil
}

// call runs one provider request through the circuit breaker.
func (c *Client) call(ctx context.Context, method, path string, body any, bearer string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, bearer, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", session.ErrProviderUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", session.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var ep errorPayload
		_ = json.Unmarshal(data, &ep)
		detail := ep.String()
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d: %s", session.ErrInvalidSession, resp.StatusCode, detail)
		}
		return fmt.Errorf("%w: status %d: %s", session.ErrProviderUnavailable, resp.StatusCode, detail)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", session.ErrProviderUnavailable, err)
	}
	return nil
}

// Compile-time interface verification.
var _ session.Provider = (*Client)(nil)
