package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter enforces per-hostname request pacing. Each hostname gets its
// own token bucket; hostnames are compared exactly, so independently operated
// subdomains are throttled independently.
type DomainLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
	burst       int
}

// LimiterConfig holds rate limiter configuration.
type LimiterConfig struct {
	// RequestsPerMinute caps the request rate per domain; 0 means unlimited.
	RequestsPerMinute int
	// MinDelay forces a minimum spacing between requests to one domain.
	MinDelay time.Duration
}

// NewDomainLimiter creates a limiter from the config. When both knobs are
// set, the stricter one wins.
func NewDomainLimiter(cfg LimiterConfig) *DomainLimiter {
	r := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		r = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	if cfg.MinDelay > 0 {
		delayRate := rate.Every(cfg.MinDelay)
		if delayRate < r {
			r = delayRate
		}
	}
	burst := 1
	if r == rate.Inf {
		burst = 1
	}
	return &DomainLimiter{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: r,
		burst:       burst,
	}
}

// Wait blocks until a token is available for the URL's hostname.
func (l *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}

	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	return nil
}
