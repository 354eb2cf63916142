package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Completion gateway metrics
	CompletionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_completion_requests_total",
			Help: "Total number of completion requests by resolution path",
		},
		[]string{"kind", "path"}, // path: cache|primary|alternate|fallback
	)

	CompletionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_completion_attempts_total",
			Help: "Total number of backend completion attempts",
		},
		[]string{"backend", "status"}, // status: success|transient|fatal
	)

	CompletionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecliptica_completion_latency_seconds",
			Help:    "End-to-end completion latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"kind", "path"},
	)

	// Access policy metrics
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_access_decisions_total",
			Help: "Total number of access checks by outcome",
		},
		[]string{"outcome"}, // outcome: subscribed|free|denied
	)

	PromoRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_promo_redemptions_total",
			Help: "Total number of promo code redemption attempts",
		},
		[]string{"status"}, // status: success|invalid
	)

	// Request guard metrics
	GuardRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecliptica_guard_rejections_total",
			Help: "Total number of requests rejected because the user was busy",
		},
	)

	// Billing metrics
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_webhook_events_total",
			Help: "Total number of billing webhook events",
		},
		[]string{"event", "status"}, // status: processed|ignored|invalid
	)

	RenewalAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_renewal_attempts_total",
			Help: "Total number of auto-renewal charge attempts",
		},
		[]string{"status"}, // status: created|error
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|redis
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecliptica_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"database", "operation"},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecliptica_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecliptica_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(CompletionRequests)
	prometheus.MustRegister(CompletionAttempts)
	prometheus.MustRegister(CompletionLatency)

	prometheus.MustRegister(AccessDecisions)
	prometheus.MustRegister(PromoRedemptions)

	prometheus.MustRegister(GuardRejections)

	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(RenewalAttempts)

	prometheus.MustRegister(DBQueries)
	prometheus.MustRegister(DBQueryDuration)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCompletion records a resolved completion request
func RecordCompletion(kind, path string, latency time.Duration) {
	CompletionRequests.WithLabelValues(kind, path).Inc()
	CompletionLatency.WithLabelValues(kind, path).Observe(latency.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	DBQueries.WithLabelValues(database, operation, status).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
}
