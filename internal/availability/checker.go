// Package availability re-verifies that a collection's declared source URL
// is still reachable before the record is persisted.
package availability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one probe.
type Result struct {
	URL        string
	Available  bool
	StatusCode int
	Err        error
}

// Config controls probe behavior. MaxRetries and RetryBackoff are deliberate
// knobs: hard-unavailable statuses are never retried, everything else gets
// MaxRetries extra attempts spaced by RetryBackoff.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
	UserAgent    string
}

const (
	defaultTimeout     = 5 * time.Second
	defaultBackoff     = 2 * time.Second
	defaultConcurrency = 15
)

// Checker probes collection source URLs. Probes run on their own small HTTP
// client so the crawl's fetch budget is unaffected.
type Checker struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewChecker builds a Checker.
func NewChecker(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultBackoff
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Check probes one URL. 404, 403, and 410 are authoritative "gone" signals
// and short-circuit without retry; connection-level failures and other error
// statuses are treated as transient and retried.
func (c *Checker) Check(ctx context.Context, url string) Result {
	var last Result
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				last.Err = ctx.Err()
				return last
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		last = c.probe(ctx, url)
		if last.Available {
			return last
		}
		if definitivelyGone(last.StatusCode) {
			return last
		}
	}
	return last
}

func definitivelyGone(code int) bool {
	switch code {
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return true
	}
	return false
}

// probe issues a HEAD request, falling back to GET when the server rejects
// the method outright.
func (c *Checker) probe(ctx context.Context, url string) Result {
	res := c.request(ctx, http.MethodHead, url)
	if res.Err == nil && (res.StatusCode == http.StatusMethodNotAllowed || res.StatusCode == http.StatusNotImplemented) {
		res = c.request(ctx, http.MethodGet, url)
	}
	return res
}

func (c *Checker) request(ctx context.Context, method, url string) Result {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Result{URL: url, Err: fmt.Errorf("build probe request: %w", err)}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{URL: url, Err: fmt.Errorf("probe %s: %w", url, err)}
	}
	defer resp.Body.Close()                                  //nolint:errcheck
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))     //nolint:errcheck
	available := resp.StatusCode >= 200 && resp.StatusCode < 400
	return Result{URL: url, Available: available, StatusCode: resp.StatusCode}
}

// CheckBatch probes many URLs with the checker's own concurrency cap and
// returns results index-aligned with urls.
func (c *Checker) CheckBatch(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			results[i] = c.Check(gctx, url)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return results
}
