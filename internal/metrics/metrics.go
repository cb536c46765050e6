// Package metrics exposes Prometheus collectors for page fetches, politeness
// delays and the metrics listener itself.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds collectors registered on a single registry. A nil *Metrics
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	pagesTotal          *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	rateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. reg is also the gatherer served by
// Handler.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("metrics: registry is required")
	}
	m := &Metrics{
		gatherer: reg,
		pagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkcrawl_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkcrawl_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		),
		rateLimitDelays: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forkcrawl_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkcrawl_http_requests_total",
				Help: "Requests served by the metrics listener, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forkcrawl_http_request_duration_seconds",
				Help:    "Latency of requests served by the metrics listener, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.pagesTotal,
		m.bytesTotal,
		m.rateLimitDelays,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// SanitizeSite reduces a URL to a lowercase hostname usable as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch counts one fetch of rawURL.
func (m *Metrics) ObserveFetch(rawURL, status string, bytesFetched int) {
	if m == nil {
		return
	}
	site := SanitizeSite(rawURL)
	m.pagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		m.bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records how long a request to host waited.
func (m *Metrics) ObserveRateLimitDelay(host string, waited time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelays.WithLabelValues(SanitizeSite(host)).Observe(waited.Seconds())
}

// ObserveHTTPRequest records one request served by the listener.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		m.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
