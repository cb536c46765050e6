package crawler

import (
	"fmt"
	"runtime"
)

// Config holds the knobs for an Engine. It is decoupled from viper so the
// engine can be embedded and tested on its own.
type Config struct {
	// ChunkSize is the largest batch a task parses in one round. Surplus URLs
	// are delegated to a forked worker. Values <= 0 disable forking.
	ChunkSize int
	// Budget caps the URLs visited by a run. Zero leaves the run unbounded,
	// in which case only the submitted targets are parsed.
	Budget int
	// Concurrency is the worker pool size. Zero uses runtime.GOMAXPROCS(0).
	Concurrency int
}

// Validate rejects settings that cannot describe a run.
func (c Config) Validate() error {
	if c.Budget < 0 {
		return fmt.Errorf("%w: budget must be >= 0, got %d", ErrInvalidConfig, c.Budget)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must be >= 0, got %d", ErrInvalidConfig, c.Concurrency)
	}
	return nil
}

func (c Config) normalized() Config {
	if c.ChunkSize < 0 {
		c.ChunkSize = 0
	}
	if c.Concurrency == 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
	return c
}

// Forking reports whether oversized frontiers are split across tasks.
func (c Config) Forking() bool {
	return c.ChunkSize > 0
}
