// Package httpclient issues upstream GET requests with bounded retries,
// exponential backoff with jitter, and Retry-After handling for 429s.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/issue-harvester/internal/clock/system"
	"github.com/JakeFAU/issue-harvester/internal/metrics"
)

const tracerName = "github.com/JakeFAU/issue-harvester/internal/httpclient"

// Config holds the knobs for a Client.
type Config struct {
	Timeout           time.Duration
	UserAgent         string
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RequestsPerSecond float64
	Burst             int
	// Transport overrides the default round tripper (tests, proxies).
	Transport http.RoundTripper
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Sleeper pauses between attempts and returns early when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Client is a reusable upstream client. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	headers http.Header
	policy  *RetryPolicy
	limiter *rate.Limiter
	sleeper Sleeper
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// WithRetryPolicy replaces the policy derived from Config.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) {
		if p != nil {
			c.policy = p
		}
	}
}

// New builds a Client from cfg.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		headers: headers,
		policy:  NewRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		limiter: limiter,
		sleeper: system.New(),
		tracer:  tp.Tracer(tracerName),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL with params merged into its query string and returns the
// body of the first 2xx response. Network errors, 429 and 5xx are retried up
// to the policy budget; any other status fails at once with a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}
	endpoint := endpointLabel(target)

	ctx, span := c.tracer.Start(ctx, "httpclient.Get", trace.WithAttributes(
		attribute.String("http.url", target),
		attribute.String("harvester.endpoint", endpoint),
	))
	defer span.End()

	body, attempts, err := c.getWithRetry(ctx, target, endpoint)
	span.SetAttributes(attribute.Int("harvester.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) getWithRetry(ctx context.Context, target, endpoint string) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		body, resp, err := c.attempt(ctx, target, endpoint)
		if err == nil {
			return body, attempt + 1, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt + 1, fmt.Errorf("get %s: %w", target, ctxErr)
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retriable() {
			return nil, attempt + 1, err
		}

		if attempt >= c.policy.MaxRetries() {
			return nil, attempt + 1, fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, attempt+1, err)
		}

		delay, reason := c.nextDelay(attempt, resp, err)
		metrics.ObserveRetry(endpoint, reason, delay)
		c.logger.Warn("retrying upstream request",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.String("reason", reason),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return nil, attempt + 1, fmt.Errorf("backoff before retry: %w", err)
		}
	}
}

// attempt performs one GET. resp is returned (with a closed body) for non-2xx
// statuses so headers remain available to the retry logic.
func (c *Client) attempt(ctx context.Context, target, endpoint string) ([]byte, *http.Response, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	for k, values := range c.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(endpoint, 0, time.Since(start))
		return nil, nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read body: %w", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, newStatusError(resp.StatusCode, target, body)
	}
	return body, resp, nil
}

func (c *Client) nextDelay(attempt int, resp *http.Response, err error) (time.Duration, string) {
	switch {
	case errors.Is(err, ErrRateLimited):
		if resp != nil {
			if d, ok := RetryAfter(resp.Header); ok {
				return d, metrics.ReasonRateLimit
			}
		}
		return c.policy.Backoff(attempt), metrics.ReasonRateLimit
	case errors.Is(err, ErrServer):
		return c.policy.Backoff(attempt), metrics.ReasonServer
	default:
		return c.policy.Backoff(attempt), metrics.ReasonNetwork
	}
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleDelay(waited)
	}
	return nil
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, values := range params {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func endpointLabel(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "other"
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case strings.HasSuffix(path, "/comment"):
		return "comment"
	case strings.HasSuffix(path, "/search"):
		return "search"
	default:
		return "other"
	}
}
