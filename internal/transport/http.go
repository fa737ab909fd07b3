package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/logreplay/internal/replay"
	"github.com/austindbirch/logreplay/internal/tracing"
)

// DefaultTimeout bounds a single replayed request.
const DefaultTimeout = 15 * time.Second

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client issues replayed GET requests. It satisfies replay.Requester.
type Client struct {
	http      *http.Client
	tokens    TokenSource
	userAgent string
}

var _ replay.Requester = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource adds an Authorization bearer header to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a Client with a 15s timeout.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: "logreplay",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do requests url and drains the body. A non-2xx answer is not an error; the
// caller classifies it from the returned status.
func (c *Client) Do(ctx context.Context, url string) (replay.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "replay.request", attribute.String("http.url", url))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return replay.Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	tracing.InjectHTTP(ctx, req.Header)
	// Add trace ID to HTTP headers for correlation
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return replay.Response{}, fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.SetAttributes(attribute.String("http.error", err.Error()))
		tracing.SetSpanError(ctx, err)
		return replay.Response{}, err
	}
	defer resp.Body.Close()

	read, err := io.Copy(io.Discard, resp.Body)
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("http.latency_ms", time.Since(start).Milliseconds()),
	)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return replay.Response{}, fmt.Errorf("read body: %w", err)
	}

	length := resp.ContentLength
	if length < 0 {
		length = read
	}
	return replay.Response{
		Status:        resp.StatusCode,
		Reason:        http.StatusText(resp.StatusCode),
		ContentLength: length,
	}, nil
}
