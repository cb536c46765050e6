// Package collyfetcher opens pages through a gocolly collector. Pages are
// fetched lazily, the first time their content is needed.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes truncates response bodies; zero keeps colly's default.
	MaxBodyBytes int
}

// Waiter delays a request until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Observer records the outcome of every fetch.
type Observer interface {
	ObserveFetch(rawURL, status string, bytesFetched int)
}

// Fetcher opens pages using a shared base collector that is cloned per fetch.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Waiter
	observer  Observer
	logger    *zap.Logger
	base      *colly.Collector
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLimiter makes every fetch wait on w first.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.limiter = w }
}

// WithObserver reports every fetch outcome to o.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// WithLogger sets the logger for fetch diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTransport replaces the pooled HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.transport = rt
		}
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.base = f.newBaseCollector()
	return f
}

func (f *Fetcher) newBaseCollector() *colly.Collector {
	c := colly.NewCollector(colly.Async(false))
	// The engine decides what gets visited; colly must not dedupe.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(&robotsAwareTransport{base: f.transport, logger: f.logger})
	return c
}

// Open validates rawURL and returns a page that fetches on first use.
func (f *Fetcher) Open(_ context.Context, rawURL string) (*page.Page, error) {
	u, err := page.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	target := u.String()
	return page.New(u, func(ctx context.Context) (page.Response, error) {
		return f.Fetch(ctx, target)
	}), nil
}

type outcome struct {
	resp page.Response
	err  error
}

// Fetch loads rawURL immediately, waiting on the limiter first.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (page.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return page.Response{}, err
		}
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		collector := f.base.Clone()
		f.configureCollectorHooks(collector, &out)
		if err := collector.Visit(rawURL); err != nil && out.err == nil {
			out.err = err
		}
		done <- out
	}()

	select {
	case <-ctx.Done():
		return page.Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		if errors.Is(out.err, colly.ErrRobotsTxtBlocked) {
			f.observe(rawURL, "blocked", 0)
			return page.Response{}, fmt.Errorf("%w: %s", page.ErrBlocked, rawURL)
		}
		if out.err != nil {
			status := "error"
			if out.resp.StatusCode > 0 {
				status = strconv.Itoa(out.resp.StatusCode)
			}
			f.observe(rawURL, status, 0)
			return page.Response{}, fmt.Errorf("colly visit %s: %w", rawURL, out.err)
		}
		f.observe(rawURL, strconv.Itoa(out.resp.StatusCode), len(out.resp.Body))
		f.logger.Debug("page fetched",
			zap.String("url", rawURL),
			zap.Int("status", out.resp.StatusCode),
			zap.Int("bytes", len(out.resp.Body)),
			zap.Duration("dur", time.Since(start)),
		)
		return out.resp, nil
	}
}

func (f *Fetcher) observe(rawURL, status string, n int) {
	if f.observer != nil {
		f.observer.ObserveFetch(rawURL, status, n)
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, out *outcome) {
	hooks.OnRequest(func(r *colly.Request) {
		if r.Headers != nil && r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp := page.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Request != nil && r.Request.URL != nil {
			resp.FinalURL = r.Request.URL.String()
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		out.resp = resp
	})

	hooks.OnError(func(r *colly.Response, err error) {
		out.err = err
		if r != nil {
			out.resp.StatusCode = r.StatusCode
		}
	})
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
