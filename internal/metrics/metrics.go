// Package metrics provides Prometheus metrics for the vector search engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vex_engine"

var (
	// IngestTotal tracks total batch-write calls.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Total batch write calls",
		},
		[]string{"status"}, // success/error
	)

	// IngestLatency tracks batch-write latency.
	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_seconds",
			Help:      "Batch write latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SearchTotal tracks total search calls by kind.
	SearchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Total search calls",
		},
		[]string{"kind", "status"}, // kind: dense/sparse/hybrid, status: success/error
	)

	// SearchLatency tracks search latency by kind.
	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Search latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// ElementCount tracks the live element count per index.
	ElementCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "element_count",
			Help:      "Live element count per index",
		},
		[]string{"owner", "index"},
	)

	// WALBacklog tracks the number of unflushed WAL entries per index.
	WALBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wal_backlog",
			Help:      "Unflushed WAL entry count per index",
		},
		[]string{"owner", "index"},
	)

	// DeletedIDPoolSize tracks the size of the reusable deleted-id pool.
	DeletedIDPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deleted_id_pool_size",
			Help:      "Number of ids currently available for reuse",
		},
		[]string{"owner", "index"},
	)
)

// ObserveIngest records one batch-write call.
func ObserveIngest(latencySeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	IngestTotal.WithLabelValues(status).Inc()
	IngestLatency.Observe(latencySeconds)
}

// ObserveSearch records one search call.
func ObserveSearch(kind string, latencySeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SearchTotal.WithLabelValues(kind, status).Inc()
	SearchLatency.WithLabelValues(kind).Observe(latencySeconds)
}

// SetElementCount sets the element-count gauge for owner/index.
func SetElementCount(owner, index string, count uint64) {
	ElementCount.WithLabelValues(owner, index).Set(float64(count))
}

// SetWALBacklog sets the WAL-backlog gauge for owner/index.
func SetWALBacklog(owner, index string, n int) {
	WALBacklog.WithLabelValues(owner, index).Set(float64(n))
}

// SetDeletedIDPoolSize sets the deleted-id pool size gauge for owner/index.
func SetDeletedIDPoolSize(owner, index string, n int) {
	DeletedIDPoolSize.WithLabelValues(owner, index).Set(float64(n))
}
