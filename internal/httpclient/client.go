// Package httpclient issues outbound GET/POST requests through a colly collector
// with bounded retries, per-host rate limiting and redirect tracking.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
	"github.com/JakeFAU/jobfeed-publisher/internal/metrics"
	"github.com/JakeFAU/jobfeed-publisher/internal/policy/pacing"
	"github.com/JakeFAU/jobfeed-publisher/internal/policy/ratelimit"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	IgnoreRobots   bool

	// Headers are sent with every request unless the request overrides them.
	Headers map[string]string
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
	// Timeout overrides the client default when > 0.
	Timeout time.Duration
}

// Response is a completed call with any 2xx status.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Redirected reports whether the request landed on a different URL.
func (r *Response) Redirected() bool {
	return r.FinalURL != "" && r.FinalURL != r.URL
}

// Client implements GET/POST with retry on top of a base colly collector.
type Client struct {
	cfg     Config
	base    *colly.Collector
	policy  RetryPolicy
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter installs a per-host rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger).Named("httpclient")
	}
}

// WithTransport replaces the HTTP transport shared by every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base.WithTransport(rt)
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	base.IgnoreRobotsTxt = cfg.IgnoreRobots
	base.ParseHTTPErrorResponse = true
	base.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		policy: NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		logger: zap.NewNop(),
		sleep:  pacing.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Headers: headers})
}

// Post sends body to rawURL. Posts are never retried.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, headers http.Header) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: body, Headers: headers})
}

// Do executes req. GET requests are retried on transient failures; any other
// method gets exactly one attempt. Non-2xx results return a *NetworkError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	maxAttempts := 1
	if req.Method == http.MethodGet {
		maxAttempts = c.policy.MaxAttempts()
	}

	var last *NetworkError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}
		resp, err := c.attempt(ctx, req)
		last = classify(req, resp, err, attempt, ctx.Err() == nil)
		if last == nil {
			return resp, nil
		}
		if !last.transient || attempt == maxAttempts {
			break
		}
		wait := c.policy.Backoff(attempt)
		metrics.ObserveHTTPRetry(req.URL)
		c.logger.Debug("retrying request",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Int("status", last.StatusCode),
			zap.Duration("backoff", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}
	}
	return nil, last
}

// classify turns one attempt into nil (success) or a NetworkError.
func classify(req Request, resp *Response, err error, attempt int, parentAlive bool) *NetworkError {
	if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	netErr := &NetworkError{Method: req.Method, URL: req.URL, Attempts: attempt, Err: err}
	if resp != nil {
		netErr.StatusCode = resp.StatusCode
		netErr.FinalURL = resp.FinalURL
		netErr.Body = resp.Body
		netErr.transient = RetryableStatus(resp.StatusCode)
		return netErr
	}
	// A per-request deadline firing while the caller's context is alive is a timeout.
	perRequestTimeout := parentAlive && errors.Is(err, context.DeadlineExceeded)
	netErr.transient = perRequestTimeout || RetryableError(err)
	return netErr
}

// attempt performs one request through a fresh clone of the base collector.
// resp is non-nil whenever the server answered, whatever the status.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := c.base.Clone()
	collector.Context = reqCtx

	var (
		result   *Response
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = &Response{
			URL:        req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hdr := c.headers(req.Headers)
	go func() {
		done <- collector.Request(req.Method, req.URL, body, nil, hdr)
	}()

	var runErr error
	select {
	case <-reqCtx.Done():
		runErr = reqCtx.Err()
	case runErr = <-done:
	}

	code := 0
	if runErr == nil && result != nil {
		code = result.StatusCode
	}
	metrics.ObserveHTTPRequest(req.Method, req.URL, code, time.Since(start))

	if runErr != nil {
		return nil, runErr
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received")
	}
	return result, nil
}

func (c *Client) headers(extra http.Header) http.Header {
	hdr := make(http.Header, len(c.cfg.Headers)+len(extra))
	for key, value := range c.cfg.Headers {
		hdr.Set(key, value)
	}
	for key, values := range extra {
		hdr.Del(key)
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	if hdr.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		hdr.Set("User-Agent", c.cfg.UserAgent)
	}
	return hdr
}

// Hostname returns the lowercase host of rawURL, or "" when it has none.
func Hostname(rawURL string) string {
	host := metrics.SanitizeSite(rawURL)
	if host == "unknown" {
		return ""
	}
	return strings.TrimPrefix(host, "www.")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
