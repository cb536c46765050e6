// Package app builds the long-lived services a crawl needs from a loaded
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/forkcrawl/internal/api"
	"github.com/JakeFAU/forkcrawl/internal/config"
	"github.com/JakeFAU/forkcrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/forkcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/forkcrawl/internal/fetcher/headless"
	"github.com/JakeFAU/forkcrawl/internal/handler"
	"github.com/JakeFAU/forkcrawl/internal/headless/detector"
	"github.com/JakeFAU/forkcrawl/internal/metrics"
	"github.com/JakeFAU/forkcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/forkcrawl/internal/progress"
	progresssinks "github.com/JakeFAU/forkcrawl/internal/progress/sinks"
)

const shutdownTimeout = 10 * time.Second

// App holds the services shared by every run: the fetch stack, the progress
// hub, the engine and the optional metrics listener.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	fetcher  *collyfetcher.Fetcher
	headless *headless.Fetcher
	opener   handler.Opener
	hub      *progress.Hub
	engine   *crawler.Engine
	server   *http.Server
}

// Report is the outcome of one crawl.
type Report struct {
	Stats crawler.Stats `json:"stats"`
	Kind  string        `json:"handler"`
	// Links holds the collected links or suffix matches.
	Links []string `json:"links,omitempty"`
	// Matches holds the regex results keyed by pattern.
	Matches map[string][]string `json:"matches,omitempty"`
}

// Build creates the application's dependencies.
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.logger.Info("building application dependencies")

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	a.limiter = ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.HTTP.RatePerHost,
		Burst:      cfg.HTTP.Burst,
	}, logger.Named("ratelimit"), ratelimit.WithObserver(a.metrics))

	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	},
		collyfetcher.WithLimiter(a.limiter),
		collyfetcher.WithObserver(a.metrics),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Bool("respect_robots", cfg.HTTP.RespectRobots),
		zap.Float64("rate_per_host", cfg.HTTP.RatePerHost),
	)
	if err := a.setupOpener(); err != nil {
		return nil, err
	}

	if err := a.setupProgress(); err != nil {
		return nil, err
	}

	a.engine, err = crawler.New(cfg.EngineConfig(),
		crawler.WithLogger(logger.Named("engine")),
		crawler.WithEmitter(a.hub),
	)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	a.logger.Info("engine config",
		zap.Int("chunk_size", a.engine.ChunkSize()),
		zap.Int("budget", a.engine.Budget()),
		zap.Int("concurrency", a.engine.Concurrency()),
	)
	return a, nil
}

// setupOpener picks how pages are loaded: colly only, headless Chrome only,
// or colly with promotion of script-rendered shells to Chrome.
func (a *App) setupOpener() error {
	hc := a.cfg.HTTP.Headless
	if hc.Render == "" || hc.Render == config.RenderNever {
		a.opener = a.fetcher
		return nil
	}
	var err error
	a.headless, err = headless.NewChromedp(headless.Config{
		MaxParallel:       hc.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: hc.NavTimeout,
	},
		headless.WithLimiter(a.limiter),
		headless.WithObserver(a.metrics),
		headless.WithLogger(a.logger.Named("headless")),
	)
	if err != nil {
		return fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.logger.Info("using headless fetcher",
		zap.String("render", hc.Render),
		zap.Int("max_parallel", hc.MaxParallel),
	)
	if hc.Render == config.RenderAlways {
		a.opener = a.headless
		return nil
	}
	a.opener = headless.NewPromoting(a.fetcher, a.headless,
		detector.NewHeuristic(hc.PromoteThreshold), a.logger.Named("promote"))
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log"), zapcore.DebugLevel),
		promSink,
	)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Metrics returns the collectors shared by the fetch stack and the listener.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// NewHandler builds an empty root handler of the configured kind.
func (a *App) NewHandler() (crawler.Handler, error) {
	opts := []handler.Option{
		handler.WithLogger(a.logger.Named("handler")),
		handler.WithSnapshotDir(a.cfg.Handler.SnapshotDir),
		handler.WithBlocklist(a.cfg.Handler.Blocklist),
	}
	switch a.cfg.Handler.Scope {
	case config.ScopeHost:
		opts = append(opts, handler.WithFilter(handler.SameHost))
	case config.ScopeAll:
		opts = append(opts, handler.WithFilter(handler.AcceptAll))
	}

	switch a.cfg.Handler.Kind {
	case config.HandlerLinks:
		return handler.NewLinkCollector(a.opener, opts...), nil
	case config.HandlerSuffix:
		return handler.NewSuffixCollector(a.opener, a.cfg.Handler.Suffixes, opts...), nil
	case config.HandlerRegex:
		h := handler.NewRegexHandler(a.opener, opts...)
		for _, p := range a.cfg.Handler.Patterns {
			if err := h.AddPattern(p, a.cfg.Handler.Group); err != nil {
				return nil, fmt.Errorf("regex handler: %w", err)
			}
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown handler kind %q", a.cfg.Handler.Kind)
	}
}

// Crawl runs the engine over the configured targets with a fresh handler
// and collects its results. An aborted or cancelled run still returns the
// partial report alongside the error.
func (a *App) Crawl(ctx context.Context) (Report, error) {
	h, err := a.NewHandler()
	if err != nil {
		return Report{}, err
	}
	stats, runErr := a.engine.Run(ctx, h, a.cfg.Crawler.Targets...)
	report := Report{Stats: stats, Kind: a.cfg.Handler.Kind}
	switch res := h.(type) {
	case *handler.LinkCollector:
		report.Links = res.Links()
	case *handler.SuffixCollector:
		report.Links = res.Matches()
	case *handler.RegexHandler:
		report.Matches = res.Results()
	}
	if runErr != nil {
		return report, fmt.Errorf("crawl: %w", runErr)
	}
	return report, nil
}

// ServeMetrics starts the operator listener when metrics.addr is set. The
// listener runs until Close.
func (a *App) ServeMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	srv := api.NewServer(a.engine, a.metrics, a.logger.Named("api"))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(s *http.Server) {
		a.logger.Info("metrics server started", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}(a.server)
}

// Close stops the listener, drains the progress hub and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
