// Package metrics provides Prometheus metrics collection for the memory engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "memory_engine"
)

// Metrics holds the Prometheus collectors for the memory subsystem.
type Metrics struct {
	reg *prometheus.Registry

	OracleCallsCounter    *prometheus.CounterVec
	OracleFailuresCounter *prometheus.CounterVec

	EmbeddingCallsCounter    prometheus.Counter
	EmbeddingFailuresCounter prometheus.Counter

	ConsolidationCyclesCounter  prometheus.Counter
	ConsolidationSkippedCounter prometheus.Counter
	SnapshotsGeneratedCounter   *prometheus.CounterVec

	RetrievalDurationHistogram prometheus.Histogram
	RetrievalCacheHitsCounter  prometheus.Counter
	RetrievalCacheMissCounter  prometheus.Counter

	MemoriesStoredCounter  prometheus.Counter
	MemoriesEvictedCounter prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
	}

	m.OracleCallsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "oracle_calls_total",
		Help:      "Total LLM oracle calls by call site",
	}, []string{"site"})

	m.OracleFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "oracle_failures_total",
		Help:      "Total failed LLM oracle calls by call site",
	}, []string{"site"})

	m.EmbeddingCallsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "embedding_calls_total",
		Help:      "Total embedding backend calls",
	})

	m.EmbeddingFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "embedding_failures_total",
		Help:      "Total failed embedding backend calls",
	})

	m.ConsolidationCyclesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "consolidation_cycles_total",
		Help:      "Total completed snapshot consolidation cycles",
	})

	m.ConsolidationSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "consolidation_skipped_total",
		Help:      "Consolidation triggers coalesced because a cycle was already running",
	})

	m.SnapshotsGeneratedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "snapshots_generated_total",
		Help:      "Total generated snapshots by level",
	}, []string{"level"})

	m.RetrievalDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "retrieval_duration_seconds",
		Help:      "Memory retrieval pipeline duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0},
	})

	m.RetrievalCacheHitsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "retrieval_cache_hits_total",
		Help:      "Retrieval result cache hits",
	})

	m.RetrievalCacheMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "retrieval_cache_misses_total",
		Help:      "Retrieval result cache misses",
	})

	m.MemoriesStoredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "memories_stored_total",
		Help:      "Total memory entries persisted",
	})

	m.MemoriesEvictedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "memories_evicted_total",
		Help:      "Total memory entries removed by retention cleanup",
	})

	m.reg.MustRegister(
		m.OracleCallsCounter,
		m.OracleFailuresCounter,
		m.EmbeddingCallsCounter,
		m.EmbeddingFailuresCounter,
		m.ConsolidationCyclesCounter,
		m.ConsolidationSkippedCounter,
		m.SnapshotsGeneratedCounter,
		m.RetrievalDurationHistogram,
		m.RetrievalCacheHitsCounter,
		m.RetrievalCacheMissCounter,
		m.MemoriesStoredCounter,
		m.MemoriesEvictedCounter,
	)

	return m
}

// Registry exposes the underlying registry for serving /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
