// Package fetch implements the HTTP layer used by the crawl workers: a
// retrying client with per-domain pacing and response-size limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 32 << 20

// StatusError reports a non-2xx HTTP response that survived retries.
type StatusError struct {
	Code       int
	URL        string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Retryable reports whether the status indicates a transient condition.
// 429 and 5xx are worth retrying; other 4xx are authoritative.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Response is the result of a successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Config controls client behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	MaxBodyBytes int64
}

// Client fetches URLs with retries and per-domain pacing. It is safe for
// concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *DomainLimiter
	retry   *ExponentialRetryPolicy
	logger  *zap.Logger
}

// NewClient builds a Client. limiter may be nil to disable pacing.
func NewClient(cfg Config, limiter *DomainLimiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: newHTTPTransport()},
		limiter: limiter,
		retry:   NewExponentialRetryPolicy(cfg.MaxRetries),
		logger:  logger,
	}
}

// Fetch retrieves rawURL, retrying transient failures per the retry policy.
// The returned error is a *StatusError for HTTP-level failures and a wrapped
// transport error otherwise.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return Response{}, err
			}
		}

		resp, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
			c.logger.Warn("rate limited by server",
				zap.String("url", rawURL),
				zap.String("retry_after", statusErr.RetryAfter),
			)
		}

		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		backoff := c.retry.Backoff(attempt)
		select {
		case <-ctx.Done():
			return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return Response{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/geo+json, */*")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return Response{}, &StatusError{
			Code:       resp.StatusCode,
			URL:        rawURL,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	return Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
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
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
}
