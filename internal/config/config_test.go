package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  targets: ["https://example.test/docs/", " "]
  chunk_size: 5
  budget: 40
  concurrency: 3
http:
  user_agent: test-agent
  timeout: 3s
  rate_per_host: 0.5
  burst: 2
  respect_robots: false
  max_body_bytes: 1024
  headless:
    render: Auto
    max_parallel: 4
    nav_timeout: 10s
handler:
  kind: Regex
  patterns: ['price: (\d+)']
  group: 1
  snapshot_dir: /tmp/snapshots
  scope: " Host "
  blocklist: ["*.ads.test", " "]
progress:
  buffer_size: 16
  max_batch_events: 4
  max_batch_wait: 1s
metrics:
  addr: ":9102"
logging:
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{"https://example.test/docs/"}, cfg.Crawler.Targets)
	require.Equal(t, crawler.Config{ChunkSize: 5, Budget: 40, Concurrency: 3}, cfg.EngineConfig())
	require.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	require.Equal(t, 3*time.Second, cfg.HTTP.Timeout)
	require.InDelta(t, 0.5, cfg.HTTP.RatePerHost, 1e-9)
	require.False(t, cfg.HTTP.RespectRobots)
	require.Equal(t, HeadlessConfig{Render: RenderAuto, MaxParallel: 4, NavTimeout: 10 * time.Second, PromoteThreshold: 2048}, cfg.HTTP.Headless)
	require.Equal(t, HandlerRegex, cfg.Handler.Kind)
	require.Equal(t, 1, cfg.Handler.Group)
	require.Equal(t, "/tmp/snapshots", cfg.Handler.SnapshotDir)
	require.Equal(t, ScopeHost, cfg.Handler.Scope)
	require.Equal(t, []string{"*.ads.test"}, cfg.Handler.Blocklist)
	require.Equal(t, time.Second, cfg.Progress.MaxBatchWait)
	require.Equal(t, ":9102", cfg.Metrics.Addr)
	require.True(t, cfg.Logging.Development)
}

func TestLoadDefaultsWithEnvTargets(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_TARGETS", "https://a.test/,https://b.test/")
	t.Setenv("CRAWLER_CRAWLER_BUDGET", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://b.test/"}, cfg.Crawler.Targets)
	require.Equal(t, 7, cfg.Crawler.Budget)
	require.Equal(t, 10, cfg.Crawler.ChunkSize)
	require.Equal(t, HandlerLinks, cfg.Handler.Kind)
	require.Equal(t, ScopeChild, cfg.Handler.Scope)
	require.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	require.True(t, cfg.HTTP.RespectRobots)
	require.Equal(t, RenderNever, cfg.HTTP.Headless.Render)
}

func TestLoadFromBindsFlags(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	flags.Int("budget", 100, "")
	flags.Int("chunk-size", 10, "")
	flags.String("handler", HandlerLinks, "")
	flags.StringSlice("suffix", nil, "")
	require.NoError(t, flags.Parse([]string{"--budget=3", "--handler=suffix", "--suffix=.java,.kt"}))

	v, err := NewViper(flags)
	require.NoError(t, err)
	v.Set("crawler.targets", []string{"https://example.test/"})

	cfg, err := LoadFrom(v, "")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Crawler.Budget)
	require.Equal(t, 10, cfg.Crawler.ChunkSize)
	require.Equal(t, HandlerSuffix, cfg.Handler.Kind)
	require.Equal(t, []string{".java", ".kt"}, cfg.Handler.Suffixes)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Crawler: CrawlerConfig{Targets: []string{"https://example.test/"}, Budget: 10},
			HTTP:    HTTPConfig{UserAgent: "ua", Timeout: time.Second},
			Handler: HandlerConfig{Kind: HandlerLinks},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no targets", mutate: func(c *Config) { c.Crawler.Targets = nil }},
		{name: "negative budget", mutate: func(c *Config) { c.Crawler.Budget = -1 }},
		{name: "negative concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = -1 }},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTP.Timeout = 0 }},
		{name: "negative rate", mutate: func(c *Config) { c.HTTP.RatePerHost = -1 }},
		{name: "empty user agent", mutate: func(c *Config) { c.HTTP.UserAgent = "" }},
		{name: "negative progress", mutate: func(c *Config) { c.Progress.BufferSize = -1 }},
		{name: "unknown render mode", mutate: func(c *Config) { c.HTTP.Headless.Render = "sometimes" }},
		{name: "negative headless parallel", mutate: func(c *Config) { c.HTTP.Headless.MaxParallel = -1 }},
		{name: "unknown scope", mutate: func(c *Config) { c.Handler.Scope = "planet" }},
		{name: "unknown handler", mutate: func(c *Config) { c.Handler.Kind = "pdf" }},
		{name: "regex without patterns", mutate: func(c *Config) { c.Handler.Kind = HandlerRegex }},
		{name: "bad regex", mutate: func(c *Config) {
			c.Handler.Kind = HandlerRegex
			c.Handler.Patterns = []string{"("}
		}},
		{name: "group out of range", mutate: func(c *Config) {
			c.Handler.Kind = HandlerRegex
			c.Handler.Patterns = []string{"a(b)"}
			c.Handler.Group = 2
		}},
		{name: "suffix without suffixes", mutate: func(c *Config) { c.Handler.Kind = HandlerSuffix }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}
