// Package config loads and validates forkcrawl configuration via viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/forkcrawl/internal/crawler"
)

// Handler kinds accepted by handler.kind.
const (
	HandlerLinks  = "links"
	HandlerRegex  = "regex"
	HandlerSuffix = "suffix"
)

// Render modes accepted by http.headless.render.
const (
	RenderNever  = "never"
	RenderAuto   = "auto"
	RenderAlways = "always"
)

// Link scopes accepted by handler.scope.
const (
	ScopeChild = "child"
	ScopeHost  = "host"
	ScopeAll   = "all"
)

// Config captures every knob loaded via viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Handler  HandlerConfig  `mapstructure:"handler"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the fork/join engine.
type CrawlerConfig struct {
	Targets     []string `mapstructure:"targets"`
	ChunkSize   int      `mapstructure:"chunk_size"`
	Budget      int      `mapstructure:"budget"`
	Concurrency int      `mapstructure:"concurrency"`
}

// HTTPConfig configures the fetchers and per-host politeness.
type HTTPConfig struct {
	UserAgent     string         `mapstructure:"user_agent"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	RatePerHost   float64        `mapstructure:"rate_per_host"`
	Burst         int            `mapstructure:"burst"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	MaxBodyBytes  int            `mapstructure:"max_body_bytes"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig controls headless Chrome rendering. Render is never, auto
// (render pages that look like script shells) or always.
type HeadlessConfig struct {
	Render           string        `mapstructure:"render"`
	MaxParallel      int           `mapstructure:"max_parallel"`
	NavTimeout       time.Duration `mapstructure:"nav_timeout"`
	PromoteThreshold int           `mapstructure:"promote_threshold"`
}

// HandlerConfig selects and configures the result handler.
type HandlerConfig struct {
	Kind        string   `mapstructure:"kind"`
	Patterns    []string `mapstructure:"patterns"`
	Group       int      `mapstructure:"group"`
	Suffixes    []string `mapstructure:"suffixes"`
	SnapshotDir string   `mapstructure:"snapshot_dir"`
	// Blocklist names hosts whose links are never followed: exact names or
	// "*.suffix" wildcards.
	Blocklist []string `mapstructure:"blocklist"`
	// Scope limits which discovered links are followed: child, host or all.
	Scope string `mapstructure:"scope"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"chunk-size":   "crawler.chunk_size",
	"budget":       "crawler.budget",
	"concurrency":  "crawler.concurrency",
	"handler":      "handler.kind",
	"pattern":      "handler.patterns",
	"group":        "handler.group",
	"suffix":       "handler.suffixes",
	"snapshot-dir": "handler.snapshot_dir",
	"scope":        "handler.scope",
	"block":        "handler.blocklist",
	"user-agent":   "http.user_agent",
	"rate":         "http.rate_per_host",
	"render":       "http.headless.render",
	"metrics-addr": "metrics.addr",
	"dev":          "logging.development",
}

// NewViper returns a viper instance with defaults, CRAWLER_ environment
// overrides and any of flags bound by name.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if flags == nil {
		return v, nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v, nil
}

// Load builds a Config from defaults, the environment and an optional file.
func Load(path string) (Config, error) {
	v, err := NewViper(nil)
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(v, path)
}

// LoadFrom reads path, if set, into v and returns the validated Config.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.targets", []string{})
	v.SetDefault("crawler.chunk_size", 10)
	v.SetDefault("crawler.budget", 100)
	v.SetDefault("crawler.concurrency", 0)
	v.SetDefault("http.user_agent", "forkcrawl/0.1")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.rate_per_host", 2.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.headless.render", RenderNever)
	v.SetDefault("http.headless.max_parallel", 2)
	v.SetDefault("http.headless.nav_timeout", "45s")
	v.SetDefault("http.headless.promote_threshold", 2048)
	v.SetDefault("handler.kind", HandlerLinks)
	v.SetDefault("handler.patterns", []string{})
	v.SetDefault("handler.group", 0)
	v.SetDefault("handler.suffixes", []string{})
	v.SetDefault("handler.snapshot_dir", "")
	v.SetDefault("handler.scope", ScopeChild)
	v.SetDefault("handler.blocklist", []string{})
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

func (c *Config) normalize() {
	c.Crawler.Targets = compact(c.Crawler.Targets)
	c.Handler.Patterns = compact(c.Handler.Patterns)
	c.Handler.Suffixes = compact(c.Handler.Suffixes)
	c.Handler.Blocklist = compact(c.Handler.Blocklist)
	c.Handler.Kind = strings.ToLower(strings.TrimSpace(c.Handler.Kind))
	c.Handler.Scope = strings.ToLower(strings.TrimSpace(c.Handler.Scope))
	c.HTTP.Headless.Render = strings.ToLower(strings.TrimSpace(c.HTTP.Headless.Render))
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Targets) == 0 {
		return fmt.Errorf("crawler.targets must list at least one url")
	}
	if c.Crawler.Budget < 0 {
		return fmt.Errorf("crawler.budget must be >= 0")
	}
	if c.Crawler.Concurrency < 0 {
		return fmt.Errorf("crawler.concurrency must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.RatePerHost < 0 {
		return fmt.Errorf("http.rate_per_host must be >= 0")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	switch c.HTTP.Headless.Render {
	case "", RenderNever, RenderAuto, RenderAlways:
	default:
		return fmt.Errorf("http.headless.render %q is not one of %s, %s, %s",
			c.HTTP.Headless.Render, RenderNever, RenderAuto, RenderAlways)
	}
	if c.HTTP.Headless.MaxParallel < 0 {
		return fmt.Errorf("http.headless.max_parallel must be >= 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 || c.Progress.MaxBatchWait < 0 {
		return fmt.Errorf("progress sizes must be >= 0")
	}
	return c.Handler.validate()
}

func (h HandlerConfig) validate() error {
	switch h.Scope {
	case "", ScopeChild, ScopeHost, ScopeAll:
	default:
		return fmt.Errorf("handler.scope %q is not one of %s, %s, %s", h.Scope, ScopeChild, ScopeHost, ScopeAll)
	}
	switch h.Kind {
	case HandlerLinks:
	case HandlerRegex:
		if len(h.Patterns) == 0 {
			return fmt.Errorf("handler.patterns must be set for the regex handler")
		}
		for _, p := range h.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("handler.patterns: %w", err)
			}
			if h.Group < 0 || h.Group > re.NumSubexp() {
				return fmt.Errorf("handler.group %d out of range for pattern %q", h.Group, p)
			}
		}
	case HandlerSuffix:
		if len(h.Suffixes) == 0 {
			return fmt.Errorf("handler.suffixes must be set for the suffix handler")
		}
	default:
		return fmt.Errorf("handler.kind %q is not one of %s, %s, %s", h.Kind, HandlerLinks, HandlerRegex, HandlerSuffix)
	}
	return nil
}

// EngineConfig converts the crawler section into the engine's Config.
func (c Config) EngineConfig() crawler.Config {
	return crawler.Config{
		ChunkSize:   c.Crawler.ChunkSize,
		Budget:      c.Crawler.Budget,
		Concurrency: c.Crawler.Concurrency,
	}
}
