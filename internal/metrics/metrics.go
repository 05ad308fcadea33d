package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics live in the Manager registry and stay nil until first use
var (
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPActiveConnections prometheus.Gauge

	httpOnce sync.Once
)

var (
	businessEnabled atomic.Bool
	systemEnabled   atomic.Bool
)

// Enable switches metric families on. Recording into a disabled family is a no-op.
func Enable(business, system bool) {
	businessEnabled.Store(business)
	systemEnabled.Store(system)
}

// BusinessEnabled reports whether request and domain counters are recorded
func BusinessEnabled() bool {
	return businessEnabled.Load()
}

func initializeHTTPMetrics() {
	httpOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		)

		HTTPRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumavet_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)

		HTTPActiveConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lumavet_http_active_connections",
				Help: "Number of in-flight HTTP requests",
			},
		)

		GetInstance().registry.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPActiveConnections,
		)
	})
}

// RecordHTTPRequest records one finished request. route is the mux path
// template so ids do not explode label cardinality.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if !BusinessEnabled() {
		return
	}
	initializeHTTPMetrics()

	status := strconv.Itoa(statusCode)
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// IncActiveConnections increments in-flight requests
func IncActiveConnections() {
	if !BusinessEnabled() {
		return
	}
	initializeHTTPMetrics()
	HTTPActiveConnections.Inc()
}

// DecActiveConnections decrements in-flight requests
func DecActiveConnections() {
	if !BusinessEnabled() {
		return
	}
	initializeHTTPMetrics()
	HTTPActiveConnections.Dec()
}

// Handler serves the Manager registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(GetInstance().registry, promhttp.HandlerOpts{})
}
