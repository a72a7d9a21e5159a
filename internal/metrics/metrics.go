// Package metrics exposes process-level Prometheus collectors for the annotator.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch failure kinds.
const (
	FailureTimeout  = "timeout"
	FailureCanceled = "canceled"
	FailureNetwork  = "network"
	FailureOther    = "other"
)

var (
	fetchFailuresTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	archiveWritesTotal         *prometheus.CounterVec
	headlessPromotionsTotal    *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_fetch_failures_total",
				Help: "Entry page fetches that failed, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "annotator_active_workers",
				Help: "Number of workers currently processing a chunk.",
			},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_archive_writes_total",
				Help: "Raw page archive writes, labeled by result.",
			},
			[]string{"result"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_headless_promotions_total",
				Help: "Probe responses re-rendered in a headless browser, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile dumps the default registry in the text exposition format, for
// pickup by the node_exporter textfile collector after a batch run.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ClassifyFetchError maps a fetch error to a failure kind label.
func ClassifyFetchError(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	case errors.As(err, &netErr):
		return FailureNetwork
	default:
		return FailureOther
	}
}

// ObserveFetchFailure increments the failure counter for err's kind.
func ObserveFetchFailure(err error) {
	if err == nil {
		return
	}
	Init()
	fetchFailuresTotal.WithLabelValues(ClassifyFetchError(err)).Inc()
}

// ObserveArchiveWrite records the result of a raw page archive write.
func ObserveArchiveWrite(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	archiveWritesTotal.WithLabelValues(result).Inc()
}

// ObserveHeadlessPromotion records the result of a headless re-render.
func ObserveHeadlessPromotion(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	headlessPromotionsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
