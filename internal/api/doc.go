// Package api hosts the operator HTTP listener that runs beside a crawl.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the counters of the current or last run.
package api
