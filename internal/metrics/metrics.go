// Package metrics exposes Prometheus collectors for the crawl-and-publish pipeline.
package metrics

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
	jobfeedPagesTotal              *prometheus.CounterVec
	jobfeedItemsTotal              *prometheus.CounterVec
	jobfeedPublishTotal            *prometheus.CounterVec
	jobfeedCheckpointPage          prometheus.Gauge
	httpRequestsTotal              *prometheus.CounterVec
	httpRetriesTotal               *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	jobfeedPacingDelaySeconds      prometheus.Histogram
	jobfeedRateLimitDelaysSeconds  *prometheus.HistogramVec
	jobfeedRedirectRecoveriesTotal prometheus.Counter
	controlRequestsTotal           *prometheus.CounterVec
	controlRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobfeedPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_pages_total",
				Help: "Listing pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		jobfeedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_items_total",
				Help: "Listing items considered, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobfeedPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_publish_total",
				Help: "Destination publish attempts, labeled by entity kind and result.",
			},
			[]string{"kind", "result"},
		)

		jobfeedCheckpointPage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobfeed_checkpoint_page",
				Help: "Next listing page recorded in the checkpoint store.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_http_requests_total",
				Help: "Outbound HTTP attempts, labeled by method, host and code.",
			},
			[]string{"method", "host", "code"},
		)

		httpRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_http_retries_total",
				Help: "Outbound HTTP retries, labeled by host.",
			},
			[]string{"host"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobfeed_http_request_duration_seconds",
				Help:    "Histogram of outbound HTTP latencies, labeled by method and host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "host"},
		)

		jobfeedPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobfeed_pacing_delay_seconds",
				Help:    "Histogram of deliberate pacing sleeps between outbound fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		jobfeedRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobfeed_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		jobfeedRedirectRecoveriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobfeed_redirect_recoveries_total",
				Help: "Redirect targets recovered from connection error text.",
			},
		)

		controlRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobfeed_control_requests_total",
				Help: "Control server requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		controlRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobfeed_control_request_duration_seconds",
				Help:    "Histogram of control server latencies, labeled by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
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

// ObservePage increments the listing page counter.
func ObservePage(status string) {
	Init()
	jobfeedPagesTotal.WithLabelValues(status).Inc()
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	Init()
	jobfeedItemsTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish records a destination publish result for kind ("company", "job", "media").
func ObservePublish(kind, result string) {
	Init()
	jobfeedPublishTotal.WithLabelValues(kind, result).Inc()
}

// SetCheckpoint records the persisted checkpoint page.
func SetCheckpoint(page int) {
	Init()
	jobfeedCheckpointPage.Set(float64(page))
}

// ObserveHTTPRequest records one outbound HTTP attempt. A zero code means the
// attempt failed before a response arrived.
func ObserveHTTPRequest(method, rawURL string, code int, duration time.Duration) {
	Init()
	host := SanitizeSite(rawURL)
	httpRequestsTotal.WithLabelValues(method, host, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, host).Observe(duration.Seconds())
}

// ObserveHTTPRetry increments the retry counter for the URL's host.
func ObserveHTTPRetry(rawURL string) {
	Init()
	httpRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObservePacingDelay records the duration of a pacing sleep.
func ObservePacingDelay(duration time.Duration) {
	Init()
	jobfeedPacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	jobfeedRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRedirectRecovery increments the redirect recovery counter.
func ObserveRedirectRecovery() {
	Init()
	jobfeedRedirectRecoveriesTotal.Inc()
}

// ObserveControlRequest records one control server request by route pattern.
func ObserveControlRequest(method, route string, code int, duration time.Duration) {
	Init()
	controlRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	controlRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
