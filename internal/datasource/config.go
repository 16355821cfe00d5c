// Package datasource implements the leaf node of the pipeline graph
// (spec.md §4.4): resolving a query's metric/tag filters to UIDs, choosing
// a scan or meta-driven multi-get execution mode, iterating configured
// rollup intervals, and streaming decoded series to its sinks.
package datasource

import (
	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/nodes/downsample"
	"github.com/tsqueng/coreengine/internal/nodes/rate"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// PostTransformKind selects which push-down-absorbed operator the node
// applies to a series right after fetch, before streaming it (spec.md §4.5
// step 2).
type PostTransformKind int

const (
	PostTransformNone PostTransformKind = iota
	PostTransformRate
	PostTransformDownsample
)

// PostTransform carries an absorbed downstream operator's own config so
// the datasource node can apply it in-line instead of a separate hop.
type PostTransform struct {
	Kind       PostTransformKind
	Rate       rate.Config
	Downsample downsample.Config
}

// apply runs the absorbed operator over s across [start, end), or returns s
// unchanged when t is nil or PostTransformNone.
func (t *PostTransform) apply(s tsdata.Series, start, end int64) tsdata.Series {
	if t == nil {
		return s
	}
	switch t.Kind {
	case PostTransformRate:
		return rate.Apply(s, t.Rate)
	case PostTransformDownsample:
		agg, err := aggregate.Lookup(t.Downsample.Aggregator)
		if err != nil {
			return s
		}
		interval := downsample.EffectiveInterval(t.Downsample, start, end)
		return downsample.Downsample(s, start, end, interval, agg, t.Downsample.Fill, t.Downsample.FillScalar)
	default:
		return s
	}
}

// RollupUsage selects the fallback behavior when an iterated rollup
// interval returns no data (spec.md §4.4 step 4).
type RollupUsage int

const (
	RollupRaw RollupUsage = iota
	RollupFallback
	RollupNoFallback
)

// RollupSpec describes one candidate interval the node tries, finest to
// coarsest, when the query configures rollups.
type RollupSpec struct {
	IntervalSeconds int64
	Usage           RollupUsage
	Table           string
	Family          string
	Style           codec.QualifierStyle
	Aggregators     codec.AggregatorTable
	// BlobFormat is non-nil when this interval is stored as append-blobs
	// rather than one cell per (timestamp, aggregator).
	BlobFormat *codec.BlobFormat
}

// Filter is a literal tag-key=tag-value equality filter; spec.md §4.4
// scopes this node to literal filters only (wildcard/regex tag matching is
// a query-planning concern above this node).
type Filter struct {
	TagKey   string
	TagValue string
}

// Limits bounds how the node batches rows into streamed results.
type Limits struct {
	MultiGetBatch      int
	MultiGetConcurrent int
	SoftByteLimit      int
	SoftRowLimit       int
}

// DefaultLimits matches the teacher's metric-buffer batch sizing order of
// magnitude, scaled down for a per-query streaming context rather than a
// bulk ingest path.
func DefaultLimits() Limits {
	return Limits{MultiGetBatch: 256, MultiGetConcurrent: 8, SoftByteLimit: 1 << 20, SoftRowLimit: 10000}
}

// Config is the per-invocation source config (spec.md §4.4 "Inputs").
type Config struct {
	Metric  string
	Filters []Filter

	Start, End int64

	// RollupIntervals is empty for a raw-only query; otherwise ordered
	// finest-to-coarsest per spec.md §4.4 step 4.
	RollupIntervals []RollupSpec

	// DownsampleHintSeconds, when non-zero, lets the node apply a "soft"
	// native-resolution reduction (pkg/resampler-derived) before emitting,
	// so a downstream Downsample node can skip redundant work
	// (SPEC_FULL.md §4.4).
	DownsampleHintSeconds int64

	Limits Limits

	SkipNSUNMetric bool
	SkipNSUNTagK   bool
	SkipNSUNTagV   bool

	ContinueOnRowError bool

	RawTable  string
	RawFamily string

	// PostTransform is set when the planner push-down-absorbed a
	// downstream Rate or Downsample node into this one (spec.md §4.5
	// step 2); nil means no fusion.
	PostTransform *PostTransform
}

// Metrics is the small counter/histogram surface a data-source node
// reports through; callers wire these to internal/telemetry. A nil field
// is treated as a no-op.
type Metrics struct {
	Rows      func()
	Bytes     func(n int)
	LatencyMs func(ms float64)
}

func (m Metrics) rows() {
	if m.Rows != nil {
		m.Rows()
	}
}

func (m Metrics) bytes(n int) {
	if m.Bytes != nil {
		m.Bytes(n)
	}
}

func (m Metrics) latencyMs(ms float64) {
	if m.LatencyMs != nil {
		m.LatencyMs(ms)
	}
}
