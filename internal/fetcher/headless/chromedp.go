// Package headless opens pages through a headless Chrome driven by chromedp,
// for sites that only produce their links after running JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/forkcrawl/internal/page"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for scripts to run.
	Settle time.Duration
}

// Waiter delays a request until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Observer records the outcome of every fetch.
type Observer interface {
	ObserveFetch(rawURL, status string, bytesFetched int)
}

// Fetcher renders pages in tabs of one lazily started headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	waiter      Waiter
	observer    Observer
	logger      *zap.Logger
	allocCancel context.CancelFunc

	// browser owns the Chrome process; every fetch opens a tab in it.
	browser       context.Context
	browserCancel context.CancelFunc
	startOnce     sync.Once
	startErr      error
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLimiter makes every fetch wait on w first.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.waiter = w }
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

// NewChromedp creates a headless fetcher. Chrome is only started by the
// first fetch.
func NewChromedp(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	f := &Fetcher{
		cfg:           cfg,
		slots:         slots,
		logger:        zap.NewNop(),
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// start launches Chrome once. Tabs created before the browser exists would
// each get a browser of their own.
func (f *Fetcher) start() error {
	f.startOnce.Do(func() {
		if err := chromedp.Run(f.browser); err != nil {
			f.startErr = fmt.Errorf("start headless browser: %w", err)
			return
		}
		f.logger.Info("headless browser started")
	})
	return f.startErr
}

// Open validates rawURL and returns a page rendered on first use.
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

// Fetch navigates to rawURL and returns the rendered DOM as the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (page.Response, error) {
	if f.waiter != nil {
		if err := f.waiter.Wait(ctx, rawURL); err != nil {
			return page.Response{}, err
		}
	}
	if err := f.acquire(ctx); err != nil {
		return page.Response{}, err
	}
	defer f.release()
	if err := f.start(); err != nil {
		f.observe(rawURL, "error", 0)
		return page.Response{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(f.browser)
	defer taskCancel()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, rawURL)
	if err != nil {
		f.observe(rawURL, "error", 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return page.Response{}, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		return page.Response{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	// The DOM is serialised HTML whatever the server declared.
	headers.Set("Content-Type", "text/html; charset=utf-8")

	f.observe(rawURL, strconv.Itoa(status), len(html))
	f.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
		zap.Duration("dur", time.Since(start)),
	)
	return page.Response{
		FinalURL:   responseURL,
		StatusCode: status,
		Header:     headers,
		Body:       []byte(html),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run %s: %w", rawURL, err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) observe(rawURL, status string, n int) {
	if f.observer != nil {
		f.observer.ObserveFetch(rawURL, status, n)
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

// responseMeta captures the main document response from network events.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Redirects emit one document response per hop; the last one wins.
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
