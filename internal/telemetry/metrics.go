// Package telemetry wires the engine's counters and histograms
// (SPEC_FULL.md §2 "Observability") onto prometheus/client_golang, the
// teacher's own metrics client dependency -- used here for self
// instrumentation (exposition) rather than the teacher's read path
// (querying an external Prometheus for metricdata).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tsqueng/coreengine/internal/datasource"
	"github.com/tsqueng/coreengine/internal/segcache"
)

// Metrics is the process-wide registry of engine counters/histograms.
type Metrics struct {
	CacheSegmentHit         prometheus.Counter
	CacheSegmentMiss        prometheus.Counter
	CacheSegmentDelete      prometheus.Counter
	CacheSegmentUncacheable prometheus.Counter
	CacheSegmentCached      prometheus.Counter
	CacheSkip               prometheus.Counter
	CacheFullQuery          prometheus.Counter

	ScanRows      prometheus.Counter
	ScanBytes     prometheus.Counter
	ScanLatencyMs prometheus.Histogram
}

// NewMetrics registers every engine counter/histogram against reg (pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration
// panics across package-level test runs).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheSegmentHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_segments_hit_total", Help: "Segment-cache reads served from cache.",
		}),
		CacheSegmentMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_segments_miss_total", Help: "Segment-cache reads that missed.",
		}),
		CacheSegmentDelete: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_segments_delete_total", Help: "Segment-cache entries explicitly cleared.",
		}),
		CacheSegmentUncacheable: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_segments_uncacheable_total", Help: "Sub-query results ineligible for write-back.",
		}),
		CacheSegmentCached: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_segments_cached_total", Help: "Segment-cache entries successfully written back.",
		}),
		CacheSkip: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_skip_total", Help: "Queries that bypassed the segment cache entirely.",
		}),
		CacheFullQuery: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_cache_full_query_total", Help: "Queries that fell back to one full-range sub-query.",
		}),
		ScanRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_scan_rows_total", Help: "Rows read from the row store across all data-source nodes.",
		}),
		ScanBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_scan_bytes_total", Help: "Cell bytes decoded from the row store.",
		}),
		ScanLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "query_scan_latency_ms", Help: "Per-scan-call latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
}

// DataSourceMetrics adapts the registered prometheus counters/histogram
// into the plain func() surface datasource.Node expects.
func (m *Metrics) DataSourceMetrics() datasource.Metrics {
	return datasource.Metrics{
		Rows:      m.ScanRows.Inc,
		Bytes:     func(n int) { m.ScanBytes.Add(float64(n)) },
		LatencyMs: m.ScanLatencyMs.Observe,
	}
}

// SegCacheMetrics adapts the registered prometheus counters into the
// plain func() surface segcache.Coordinator expects, keeping that package
// free of a direct prometheus dependency.
func (m *Metrics) SegCacheMetrics() segcache.Metrics {
	return segcache.Metrics{
		Hit:         m.CacheSegmentHit.Inc,
		Miss:        m.CacheSegmentMiss.Inc,
		Delete:      m.CacheSegmentDelete.Inc,
		Uncacheable: m.CacheSegmentUncacheable.Inc,
		Cached:      m.CacheSegmentCached.Inc,
		Skip:        m.CacheSkip.Inc,
		FullQuery:   m.CacheFullQuery.Inc,
	}
}
