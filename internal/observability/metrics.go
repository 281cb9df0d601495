package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// GPURequestsTotal counts GPU provider requests by provider and operation.
	GPURequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_requests_total",
			Help: "Total number of GPU provider requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	// GPURequestDuration records durations of GPU provider requests.
	GPURequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpu_request_duration_seconds",
			Help:    "GPU provider request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by kind.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by kind.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"kind"},
	)
	// JobsCompletedTotal counts jobs completed by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	// JobsFailedTotal counts jobs failed by kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	// QueueDepth gauges the number of jobs currently queued per kind's topic.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs waiting in a kind's queue",
		},
		[]string{"kind"},
	)
	// DLQDepth gauges the number of jobs sitting in a kind's dead letter queue.
	DLQDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlq_depth",
			Help: "Number of jobs in a kind's dead letter queue",
		},
		[]string{"kind"},
	)

	// CreditReservationsTotal counts credit ledger reservations by outcome.
	CreditReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_reservations_total",
			Help: "Total credit reservation attempts by outcome (ok, insufficient)",
		},
		[]string{"outcome"},
	)
	// CreditRefundsTotal counts credit refunds issued.
	CreditRefundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_refunds_total",
			Help: "Total number of credit refunds issued",
		},
	)

	// RateLimitViolationsTotal counts requests rejected by the rate limiter.
	RateLimitViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_violations_total",
			Help: "Total number of requests rejected for exceeding the rate limit",
		},
		[]string{"route"},
	)
	// RateLimitStoreUnavailableTotal counts fail-open events when Redis is down,
	// making the implicit fail-open path of the sliding window limiter explicit
	// and observable rather than silent.
	RateLimitStoreUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_store_unavailable_total",
			Help: "Total number of requests admitted because the rate limit store was unreachable (fail-open)",
		},
	)

	// ModerationActionsTotal counts moderation decisions by action taken.
	ModerationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Total number of moderation decisions by action",
		},
		[]string{"action"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per GPU provider.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// NotificationsSentTotal counts notifications delivered by category.
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered, by category",
		},
		[]string{"category"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(GPURequestsTotal)
	prometheus.MustRegister(GPURequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(CreditReservationsTotal)
	prometheus.MustRegister(CreditRefundsTotal)
	prometheus.MustRegister(RateLimitViolationsTotal)
	prometheus.MustRegister(RateLimitStoreUnavailableTotal)
	prometheus.MustRegister(ModerationActionsTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(NotificationsSentTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given kind.
func EnqueueJob(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

// StartProcessingJob increments the processing gauge for the given kind.
func StartProcessingJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Inc()
}

// CompleteJob marks a job complete: decrements processing, increments completed.
func CompleteJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
}

// FailJob marks a job failed: decrements processing, increments failed.
func FailJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
}

// SetQueueDepth sets the current queue depth gauge for a kind.
func SetQueueDepth(kind string, depth int) {
	QueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// SetDLQDepth sets the current DLQ depth gauge for a kind.
func SetDLQDepth(kind string, depth int) {
	DLQDepth.WithLabelValues(kind).Set(float64(depth))
}

// RecordCreditReservation records the outcome of a credit reservation attempt.
func RecordCreditReservation(outcome string) {
	CreditReservationsTotal.WithLabelValues(outcome).Inc()
}

// RecordCreditRefund increments the refund counter.
func RecordCreditRefund() {
	CreditRefundsTotal.Inc()
}

// RecordRateLimitViolation increments the violation counter for a route.
func RecordRateLimitViolation(route string) {
	RateLimitViolationsTotal.WithLabelValues(route).Inc()
}

// RecordRateLimitStoreUnavailable increments the fail-open counter.
func RecordRateLimitStoreUnavailable() {
	RateLimitStoreUnavailableTotal.Inc()
}

// RecordModerationAction increments the moderation action counter.
func RecordModerationAction(action string) {
	ModerationActionsTotal.WithLabelValues(action).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state for a provider.
func RecordCircuitBreakerStatus(provider string, state CircuitBreakerState) {
	CircuitBreakerStatus.WithLabelValues(provider).Set(float64(state))
}

// RecordNotificationSent increments the delivered-notifications counter for a category.
func RecordNotificationSent(category string) {
	NotificationsSentTotal.WithLabelValues(category).Inc()
}

// RecordGPUCall records a single provider call's outcome and latency. The
// operation label is the job kind (image/video/caption); failures are logged
// by the caller rather than tracked in a separate counter, matching the
// teacher's other per-operation histograms.
func RecordGPUCall(provider, operation string, duration time.Duration) {
	GPURequestsTotal.WithLabelValues(provider, operation).Inc()
	GPURequestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}
