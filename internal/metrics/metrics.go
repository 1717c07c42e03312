// Package metrics exposes meteord's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PassesPredicted counts passes returned by successful predictions.
	PassesPredicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteord_passes_predicted_total",
		Help: "Total number of passes returned by successful predictions.",
	})

	// PredictionFailures counts failed prediction attempts.
	PredictionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteord_prediction_failures_total",
		Help: "Total number of failed pass prediction attempts.",
	})

	// CaptureOutcomes counts finished capture attempts by outcome tag.
	CaptureOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meteord_capture_outcomes_total",
		Help: "Total number of capture attempts by outcome.",
	}, []string{"outcome"})

	// FallbackEscalations counts captures scheduled above tier 0.
	FallbackEscalations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteord_fallback_escalations_total",
		Help: "Total number of captures scheduled on a fallback tier.",
	})

	// LockReclamations counts stale device locks forcibly cleared.
	LockReclamations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteord_lock_reclamations_total",
		Help: "Total number of stale device-lock reclamations.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meteord_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "code"})

	httpDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meteord_http_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
)

func init() {
	prometheus.MustRegister(
		PassesPredicted,
		PredictionFailures,
		CaptureOutcomes,
		FallbackEscalations,
		LockReclamations,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}
