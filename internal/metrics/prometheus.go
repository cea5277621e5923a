package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks HTTP requests served by the order service.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// IntentsCreated counts payment intents by gateway kind, so degraded
	// (mock) mode shows up on a dashboard.
	IntentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intents_created_total",
			Help: "Payment intents created, by gateway kind",
		},
		[]string{"gateway"},
	)

	// ConfirmAttempts counts orchestrator confirmation outcomes.
	ConfirmAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_confirm_attempts_total",
			Help: "Order confirmation attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// ConfirmLost counts payments captured whose order-confirm call failed.
	ConfirmLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_confirm_lost_total",
			Help: "Payments captured whose order-confirm call failed",
		},
	)

	// PollFailures counts status-tracker polls that errored and were skipped.
	PollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_status_poll_failures_total",
			Help: "Order status polls that failed and were skipped",
		},
	)

	// OrderAmount observes confirmed order totals in minor units.
	OrderAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_total_amount_minor_units",
			Help:    "Confirmed order totals in currency minor units",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per route template.
func Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}

			RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
