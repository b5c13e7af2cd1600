package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inserts records insert submissions by result (ok|duplicate|error).
	Inserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupcap_inserts_total",
			Help: "Total number of insert submissions",
		},
		[]string{"result"},
	)

	// Deletes records user-initiated delete submissions by result (ok|not_found|error).
	Deletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupcap_deletes_total",
			Help: "Total number of delete submissions",
		},
		[]string{"result"},
	)

	// EvictedEntries counts entries removed by capacity eviction.
	EvictedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupcap_evicted_entries_total",
			Help: "Total number of entries evicted to enforce group capacity",
		},
	)

	// CounterResyncs counts times a group counter was re-derived from the entry store.
	CounterResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groupcap_counter_resyncs_total",
			Help: "Total number of authoritative counter recounts",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupcap_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
