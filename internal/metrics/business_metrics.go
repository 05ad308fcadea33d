package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values shared by the domain counters
const (
	ResultSuccess  = "success"
	ResultInvalid  = "invalid"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultDenied   = "denied"
	ResultThrottle = "throttled"
)

var (
	examUploadsTotal    *prometheus.CounterVec
	examUploadBytes     prometheus.Histogram
	registryCreated     *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	loginsTotal         *prometheus.CounterVec
	examForwardsTotal   *prometheus.CounterVec
	businessMetricsOnce sync.Once
)

func initializeBusinessMetrics() {
	businessMetricsOnce.Do(func() {
		examUploadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_exam_uploads_total",
				Help: "Exam uploads by result",
			},
			[]string{"result"},
		)

		examUploadBytes = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lumavet_exam_upload_bytes",
				Help:    "Size of stored exam PDFs",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 11),
			},
		)

		registryCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_registry_created_total",
				Help: "Records created while resolving uploads",
			},
			[]string{"entity"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_notifications_total",
				Help: "Exam notification emails by result",
			},
			[]string{"result"},
		)

		loginsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		)

		examForwardsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumavet_exam_forwards_total",
				Help: "Exam forwards by result",
			},
			[]string{"result"},
		)

		GetInstance().registry.MustRegister(
			examUploadsTotal,
			examUploadBytes,
			registryCreated,
			notificationsTotal,
			loginsTotal,
			examForwardsTotal,
		)
	})
}

// RecordExamUpload counts an upload attempt and, on success, its size
func RecordExamUpload(result string, size int64) {
	if !BusinessEnabled() {
		return
	}
	initializeBusinessMetrics()

	examUploadsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		examUploadBytes.Observe(float64(size))
	}
}

// RecordRegistryCreate counts a tutor, pet or tutor account created by an upload
func RecordRegistryCreate(entity string) {
	if !BusinessEnabled() {
		return
	}
	initializeBusinessMetrics()
	registryCreated.WithLabelValues(entity).Inc()
}

// RecordNotification counts a notification email outcome
func RecordNotification(result string) {
	if !BusinessEnabled() {
		return
	}
	initializeBusinessMetrics()
	notificationsTotal.WithLabelValues(result).Inc()
}

// RecordLogin counts a login attempt outcome
func RecordLogin(result string) {
	if !BusinessEnabled() {
		return
	}
	initializeBusinessMetrics()
	loginsTotal.WithLabelValues(result).Inc()
}

// RecordForward counts an exam forward outcome
func RecordForward(result string) {
	if !BusinessEnabled() {
		return
	}
	initializeBusinessMetrics()
	examForwardsTotal.WithLabelValues(result).Inc()
}
