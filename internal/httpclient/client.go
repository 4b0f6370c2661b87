package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

const (
	// DefaultTimeout applies when neither the client nor the request sets one
	DefaultTimeout = 30 * time.Second

	maxBodySize = 8 << 20
)

// Client implements interfaces.HTTPClient. Every call gets a fresh cookie jar
// seeded from the request cookies, so no state leaks between accounts.
type Client struct {
	timeout   time.Duration
	logger    arbor.ILogger
	hostRate  rate.Limit
	transport http.RoundTripper

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHostRateLimit paces requests per host; zero disables pacing.
func WithHostRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		c.hostRate = rate.Limit(requestsPerSecond)
	}
}

// WithTransport replaces the base transport (used by tests).
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = transport
	}
}

// NewClient creates a new provider HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:  DefaultTimeout,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransportError is a failed exchange: network error, timeout or an unexpected status.
type TransportError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s (url: %s)", e.StatusCode, e.Message, e.URL)
	}
	return fmt.Sprintf("%s (url: %s)", e.Message, e.URL)
}

// Do performs one request. Non-2xx statuses are returned as responses; only
// exchanges that produced no response are errors.
func (c *Client) Do(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Message: fmt.Sprintf("invalid url: %v", err)}
	}

	if err := c.wait(ctx, target.Host); err != nil {
		return nil, &TransportError{URL: req.URL, Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	httpClient, jar, err := c.newHTTPClient(req, target)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.JSONBody != nil {
		data, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.JSONBody != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("url", req.URL).
			Int("cookies", len(req.Cookies)).
			Bool("proxy", req.Proxy != "").
			Msg("Provider request")
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, URL: req.URL, Message: fmt.Sprintf("failed to read body: %v", err)}
	}

	out := &models.HTTPResponse{
		Status:     resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
		SetCookies: issuedCookies(resp, jar, req.Cookies),
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Int("bytes", len(data)).
			Int("set_cookies", len(out.SetCookies)).
			Msg("Provider response")
	}

	return out, nil
}

func (c *Client) newHTTPClient(req *models.HTTPRequest, target *url.URL) (*http.Client, http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if len(req.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(req.Cookies))
		for name, value := range req.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		jar.SetCookies(&url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/"}, cookies)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	transport := c.transport
	if req.Proxy != "" {
		proxyURL, err := url.Parse(req.Proxy)
		if err != nil {
			return nil, nil, &TransportError{URL: req.URL, Message: fmt.Sprintf("invalid proxy: %v", err)}
		}
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected default transport type")
		}
		proxied := base.Clone()
		proxied.Proxy = http.ProxyURL(proxyURL)
		transport = proxied
	}

	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: transport,
	}, jar, nil
}

func (c *Client) wait(ctx context.Context, host string) error {
	if c.hostRate <= 0 {
		return nil
	}
	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(c.hostRate, 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()
	return limiter.Wait(ctx)
}

// issuedCookies returns the cookies the server set during the exchange,
// including those set on redirects, excluding unchanged seed cookies.
func issuedCookies(resp *http.Response, jar http.CookieJar, seeded map[string]string) map[string]string {
	out := make(map[string]string)
	for _, ck := range jar.Cookies(resp.Request.URL) {
		if prev, ok := seeded[ck.Name]; ok && prev == ck.Value {
			continue
		}
		out[ck.Name] = ck.Value
	}
	for _, ck := range resp.Cookies() {
		if ck.MaxAge < 0 {
			continue
		}
		out[ck.Name] = ck.Value
	}
	return out
}

var _ interfaces.HTTPClient = (*Client)(nil)
