package tsdata

import "github.com/tsqueng/coreengine/internal/timeutil"

// ValueKind distinguishes the three value shapes a time-series iterator can
// carry (spec.md §3): a single numeric value per tick, a pre-aligned array
// of numeric values, or a numeric summary keyed by aggregator id.
type ValueKind int

const (
	ValueScalar ValueKind = iota
	ValueArray
	ValueSummary
)

// Point is a single (timestamp, value) sample of a scalar series.
type Point struct {
	Timestamp int64 // seconds, unless the producing node documents ms
	Value     Float
}

// SummaryPoint is a single tick of a numeric-summary series: one value per
// aggregator id (sum=0, count=1, ... per the rollup configuration).
type SummaryPoint struct {
	Timestamp int64
	Values    map[byte]Float
}

// ID identifies one series within a data source: its TSUID bytes plus a
// human-readable label (the data-source node sets it to the metric name).
// The expression node binds operands by this label and the summarizer
// appends its aggregator name to it; joins key on the series' Tags, not
// on this string.
type ID struct {
	TSUID []byte
	Label string
}

// Series is a decoded, immutable time-series: once produced by the
// data-source node, downstream nodes consume its iterator without mutating
// the underlying value slice (invariant 4 of spec.md §3).
type Series struct {
	ID      ID
	Kind    ValueKind
	Points  []Point         // populated when Kind == ValueScalar
	Array   *ArraySeries    // populated when Kind == ValueArray
	Summary []SummaryPoint  // populated when Kind == ValueSummary
	Tags    map[string]string
}

// ArraySeries is a value series pre-aligned to a shared timeutil.Spec, used
// by downsample/window/group-by's array accumulation mode so iterators can
// write directly into a shared buffer instead of allocating per tick.
type ArraySeries struct {
	Spec   timeutil.Spec
	Values []Float
}

// Len returns the number of points/buckets in the series regardless of kind.
func (s *Series) Len() int {
	switch s.Kind {
	case ValueScalar:
		return len(s.Points)
	case ValueArray:
		if s.Array == nil {
			return 0
		}
		return len(s.Array.Values)
	case ValueSummary:
		return len(s.Summary)
	default:
		return 0
	}
}

// PartialTimeSeriesSet is a streamed slice of one or more series bounded by
// a time range, as produced by the data-source node and passed between
// pipeline nodes (spec.md §3, §4.4).
type PartialTimeSeriesSet struct {
	Start, End int64
	Sequence   int64 // ascending per (node, data_source_id), spec.md §5
	Final      bool  // true on the terminal sequence for this stream
	Series     []Series
}

// Result is the per-(node, data-source) query result envelope delivered to
// sinks (spec.md §3).
type Result struct {
	SourceNodeID string
	DataSourceID string
	Spec         *timeutil.Spec
	Series       []Series
	Resolution   int64
	Err          error
}
