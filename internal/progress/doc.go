// Package progress carries the lifecycle events a crawl run reports while it
// forks, merges and finishes tasks. Events are batched by a Hub on a background
// goroutine and fanned out to sinks such as Prometheus or a zap logger.
package progress
