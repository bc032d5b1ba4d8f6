package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.StoreOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	r.StoreOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusokv_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.StoreLiveKeys = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_store_live_keys",
			Help: "Number of live keys in the index",
		},
	)

	r.StoreSegmentsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_store_segments_total",
			Help: "Number of live segment files",
		},
	)

	r.StoreDiskUsageBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_store_disk_usage_bytes",
			Help: "Disk space used by segment files in bytes",
		},
	)

	r.StoreUncompactedBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_store_uncompacted_bytes",
			Help: "Estimated dead bytes awaiting compaction",
		},
	)

	r.RotationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_store_rotations_total",
			Help: "Total number of active segment rotations",
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_store_compactions_total",
			Help: "Total number of compaction batches",
		},
	)

	r.CompactionReclaimedBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_store_compaction_reclaimed_bytes_total",
			Help: "Total disk space reclaimed by compaction in bytes",
		},
	)
}
