package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Remote vendor calls ───────────────────────────────────────────
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_remote_requests_total",
			Help: "Total number of requests sent to the proctoring vendor API",
		},
		[]string{"endpoint", "code"}, // code is the HTTP status, or "error" for connection failures
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_remote_request_duration_seconds",
			Help:    "Duration of proctoring vendor API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_pages_fetched_total",
			Help: "Total number of list pages fetched while following NextToken cursors",
		},
		[]string{"endpoint"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_records_rejected_total",
			Help: "Vendor records dropped during normalization",
		},
		[]string{"entity", "reason"},
	)

	BulkItemsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_bulk_items_skipped_total",
			Help: "Bulk participant requests skipped because of a client error",
		},
	)

	// ─── Cache ─────────────────────────────────────────────────────────
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_cache_lookups_total",
			Help: "Cache lookups by scope and result",
		},
		[]string{"scope", "result"}, // result: hit, miss
	)

	// ─── Circuit breaker ───────────────────────────────────────────────
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_circuit_breaker_requests_total",
			Help: "Requests passing through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// ─── Failure audit pipeline ────────────────────────────────────────
	RemoteFailuresReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_remote_failures_reported_total",
			Help: "Failed remote calls reported to the audit sink after per-session deduplication",
		},
	)

	RemoteFailuresPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_remote_failures_persisted_total",
			Help: "Failure records written to PostgreSQL by the failure worker",
		},
	)

	// ─── WebSocket ─────────────────────────────────────────────────────
	StatusStreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_status_stream_connections",
			Help: "Open module status WebSocket connections",
		},
	)
)
