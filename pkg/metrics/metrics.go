package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations counts store calls by namespace, operation (put|get|delete|keys)
	// and result (ok|not_found|expired|invalid|error).
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lvchat_store_operations_total",
			Help: "Total number of TTL store operations",
		},
		[]string{"namespace", "op", "result"},
	)

	// SweepRemoved counts records reclaimed by sweeps, per namespace and trigger (cron|write).
	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lvchat_store_sweep_removed_total",
			Help: "Records removed by namespace sweeps",
		},
		[]string{"namespace", "trigger"},
	)

	// SweepDuration measures how long a full namespace scan takes.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lvchat_store_sweep_duration_seconds",
			Help:    "Namespace sweep duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lvchat_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
