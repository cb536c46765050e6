// Package ratelimit spaces out requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHostRPS is the sustained request rate per host. Zero or less
	// disables limiting.
	PerHostRPS float64
	// Burst is the bucket size per host; at least 1.
	Burst int
}

// DelayObserver records how long a request waited for its host's bucket.
type DelayObserver interface {
	ObserveRateLimitDelay(host string, waited time.Duration)
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
	observer DelayObserver
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithObserver reports every wait to o.
func WithObserver(o DelayObserver) Option {
	return func(l *Limiter) { l.observer = o }
}

// New creates a Limiter. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	limit := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until a token is available for the host of rawURL or ctx is
// done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	waited := time.Since(start)
	if l.observer != nil {
		l.observer.ObserveRateLimitDelay(host, waited)
	}
	if waited > time.Millisecond {
		l.logger.Debug("rate limited", zap.String("host", host), zap.Duration("waited", waited))
	}
	return nil
}

// Hosts returns how many hosts have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
