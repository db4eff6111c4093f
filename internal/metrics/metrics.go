// Package metrics exposes Prometheus collectors for the lookup service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_fetches_total",
			Help: "Total number of page fetches, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookmeta_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_lookups_total",
			Help: "Total number of lookups, labeled by mode (identifier, search, isbn or empty).",
		},
		[]string{"mode"},
	)

	candidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_candidates_total",
			Help: "Total number of resolved candidates, labeled by source.",
		},
		[]string{"source"},
	)

	workerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_worker_outcomes_total",
			Help: "Total number of finished scrape workers, labeled by final state.",
		},
		[]string{"state"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookmeta_active_workers",
			Help: "Number of scrape workers currently running.",
		},
	)

	coverDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_cover_downloads_total",
			Help: "Total number of cover resolutions, labeled by result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookmeta_http_requests_total",
			Help: "Total number of API requests, labeled by route and code.",
		},
		[]string{"route", "code"},
	)
)

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

// ObserveFetch records one fetch and its latency.
func ObserveFetch(rawURL, outcome string, duration time.Duration) {
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveLookup increments the lookup counter.
func ObserveLookup(mode string) {
	lookupsTotal.WithLabelValues(mode).Inc()
}

// ObserveCandidates adds n resolved candidates for source.
func ObserveCandidates(source string, n int) {
	if n <= 0 {
		return
	}
	candidatesTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveWorkerOutcome increments the worker outcome counter.
func ObserveWorkerOutcome(state string) {
	workerOutcomesTotal.WithLabelValues(state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveCoverDownload increments the cover download counter.
func ObserveCoverDownload(result string) {
	coverDownloadsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the API request counter.
func ObserveHTTPRequest(route string, code int) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
