// Package telemetry exposes Prometheus collectors for the annotator service.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	proxyPagesTotal            *prometheus.CounterVec
	upstreamDurationSeconds    *prometheus.HistogramVec
	savesTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		proxyPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_proxy_pages_total",
				Help: "Total pages served through the proxy, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		upstreamDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotator_upstream_duration_seconds",
				Help:    "Histogram of outbound fetch latencies, labeled by operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"operation"},
		)

		savesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_saves_total",
				Help: "Total annotation save attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProxyPage increments the proxy counter for one served page.
func ObserveProxyPage(site, outcome string) {
	proxyPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveUpstream records the latency of one outbound fetch.
func ObserveUpstream(operation string, duration time.Duration) {
	upstreamDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveSave increments the save counter for the given outcome.
func ObserveSave(outcome string) {
	savesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
