// Package metrics exposes Prometheus collectors for the profile service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	contactSubmissionsTotal     *prometheus.CounterVec
	recaptchaVerificationsTotal *prometheus.CounterVec
	rateLimitRejectionsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		contactSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_submissions_total",
				Help: "Total number of contact submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recaptchaVerificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recaptcha_verifications_total",
				Help: "Total number of reCAPTCHA verification attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Total number of submissions rejected by the rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission increments the submission counter for the given outcome.
func ObserveSubmission(outcome string) {
	Init()
	contactSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveVerification increments the verification counter for the given outcome.
func ObserveVerification(outcome string) {
	Init()
	recaptchaVerificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitRejection increments the rate limit rejection counter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}
