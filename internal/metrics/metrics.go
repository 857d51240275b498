package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks every attempt by endpoint and classification
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_attempts_total",
			Help: "Total number of upstream attempts",
		},
		[]string{"capability", "endpoint", "classification"},
	)

	// AttemptDuration tracks attempt latency
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_attempt_duration_seconds",
			Help:    "Upstream attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability", "endpoint"},
	)

	// RequestsTotal tracks logical requests by outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_requests_total",
			Help: "Total number of logical requests",
		},
		[]string{"capability", "strategy", "result"},
	)

	// RequestDuration tracks end-to-end logical request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_request_duration_seconds",
			Help:    "Logical request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability", "strategy"},
	)

	// UnhealthyEndpoints tracks how many endpoints are excluded per session
	UnhealthyEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_unhealthy_endpoints",
			Help: "Endpoints currently excluded from selection",
		},
		[]string{"session"},
	)

	// SnapshotPublishErrors tracks failed health snapshot publications
	SnapshotPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failover_snapshot_publish_errors_total",
			Help: "Total number of failed health snapshot publications",
		},
	)
)

var (
	// DBConnectionPoolUsage tracks the percentage of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool limit",
		},
	)
)
