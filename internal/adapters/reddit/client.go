// Package reddit is a small client for the reddit API endpoints the agent
// uses.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/okian/xferkarma/pkg/metrics"
)

const (
	defaultAPIBase  = "https://oauth.reddit.com"
	defaultAuthBase = "https://www.reddit.com"

	// Refresh tokens a little early so in-flight requests never carry an
	// expired one.
	tokenSlack = time.Minute
)

// Credentials for the script-app password grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Client performs authenticated, rate limited API calls.
type Client struct {
	http      *http.Client
	apiBase   string
	authBase  string
	creds     Credentials
	userAgent string
	limiter   *rate.Limiter
	logger    *slog.Logger
	clock     clockwork.Clock

	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a client. Reddit allows 60 requests per minute for
// OAuth clients, which is the default budget.
func NewClient(creds Credentials, userAgent string, opts ...Option) *Client {
	c := &Client{
		apiBase:      defaultAPIBase,
		authBase:     defaultAuthBase,
		creds:        creds,
		userAgent:    userAgent,
		limiter:      rate.NewLimiter(rate.Limit(1), 5),
		logger:       slog.Default(),
		clock:        clockwork.NewRealClock(),
		retryMax:     3,
		retryWaitMin: time.Second,
		retryWaitMax: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = c.newHTTPClient()
	}
	return c
}

func (c *Client) newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = c.retryMax
	rc.RetryWaitMin = c.retryWaitMin
	rc.RetryWaitMax = c.retryWaitMax
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: c.logger.With("subsystem", "reddit-http")})
	rc.CheckRetry = retryPolicy
	hc := rc.StandardClient()
	hc.Timeout = 30 * time.Second
	return hc
}

// noRetryKey marks requests that must be sent at most once.
type noRetryKey struct{}

// once marks requests on ctx as non-idempotent: a 5xx may mean the server
// already applied them, so they are never resent.
func once(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// retryPolicy leaves 429 to the caller's backoff instead of hammering the
// API from inside a single request.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(noRetryKey{}) != nil {
		return false, ctx.Err()
	}
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// leveledSlog downgrades intermediate retry errors to warnings.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledSlog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// accessToken returns a cached bearer token, fetching a new one when needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.creds.Username},
		"password":   {c.creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	var tr tokenResponse
	if err := c.send(req, "access_token", &tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: %s", ErrAuth, tr.Error)
	}
	c.token = tr.AccessToken
	c.tokenExpiry = c.clock.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSlack)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// get issues an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("raw_json", "1")
	return c.call(ctx, http.MethodGet, endpoint, path+"?"+query.Encode(), nil, out)
}

// post issues an authenticated form POST.
func (c *Client) post(ctx context.Context, endpoint, path string, form url.Values, out any) error {
	return c.call(ctx, http.MethodPost, endpoint, path, form, out)
}

func (c *Client) call(ctx context.Context, method, endpoint, pathAndQuery string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+pathAndQuery, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	err = c.send(req, endpoint, out)
	if errors.Is(err, ErrAuth) {
		c.resetToken()
	}
	return err
}

// send executes req, records metrics and maps the status to an error kind.
func (c *Client) send(req *http.Request, endpoint string, out any) error {
	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint, "error", c.clock.Since(start).Seconds())
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("%w: %s %s: %w", ErrUpstream, req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(endpoint, strconv.Itoa(resp.StatusCode), c.clock.Since(start).Seconds())

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w", req.Method, endpoint, err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, endpoint, err)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrAuth
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstream, code)
	default:
		return fmt.Errorf("%w: status %d", ErrAPI, code)
	}
}
