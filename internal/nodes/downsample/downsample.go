// Package downsample implements the Downsample processor node: aligns
// samples to a fixed interval (or a configured "auto" table, or a single
// run_all bucket) and fills gaps per a configured policy (spec.md §4.5).
package downsample

import (
	"context"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/timeutil"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("downsample", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := ConfigFromOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: c}, nil
	})
}

// AutoRange maps a query-span upper bound to the interval used when
// IntervalSeconds == 0 ("auto"), per spec.md §4.5.
type AutoRange struct {
	MaxSpanSeconds int64
	IntervalSeconds int64
}

// defaultAutoTable is a coarse span->interval ladder in the spirit of
// dashboard auto-resolution tables: short ranges stay near raw resolution,
// long ranges fall back to daily buckets.
var defaultAutoTable = []AutoRange{
	{MaxSpanSeconds: 3 * 3600, IntervalSeconds: 60},
	{MaxSpanSeconds: 24 * 3600, IntervalSeconds: 300},
	{MaxSpanSeconds: 7 * 24 * 3600, IntervalSeconds: 3600},
	{MaxSpanSeconds: 1 << 62, IntervalSeconds: 86400},
}

// Config configures a Downsample node.
type Config struct {
	IntervalSeconds int64 // 0 selects AutoTable
	RunAll          bool
	Fill            timeutil.FillPolicy
	FillScalar      float64
	Aggregator      string
	AutoTable       []AutoRange
}

// ConfigFromOptions parses a Downsample node's wire options. Exported so
// the datasource node can parse the same shape when a Downsample node is
// push-down absorbed (spec.md §4.5 step 2).
func ConfigFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{Aggregator: "avg", AutoTable: defaultAutoTable}
	if opts == nil {
		return c, nil
	}
	if v, ok := opts["interval_seconds"].(float64); ok {
		c.IntervalSeconds = int64(v)
	}
	if v, ok := opts["run_all"].(bool); ok {
		c.RunAll = v
	}
	if v, ok := opts["aggregator"].(string); ok {
		c.Aggregator = v
	}
	if v, ok := opts["fill_scalar"].(float64); ok {
		c.FillScalar = v
	}
	if v, ok := opts["fill"].(string); ok {
		switch v {
		case "NONE":
			c.Fill = timeutil.FillNone
		case "ZERO":
			c.Fill = timeutil.FillZero
		case "NOT_A_NUMBER":
			c.Fill = timeutil.FillNaN
		case "NULL":
			c.Fill = timeutil.FillNull
		case "SCALAR":
			c.Fill = timeutil.FillScalar
		case "PREFER_PREVIOUS":
			c.Fill = timeutil.FillPreferPrevious
		case "PREFER_NEXT":
			c.Fill = timeutil.FillPreferNext
		}
	}
	return c, nil
}

// Node is the Downsample processor.
type Node struct {
	nodes.Base
	cfg Config
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	if res.Spec == nil {
		return n.Forward(ctx, res)
	}
	agg, err := aggregate.Lookup(n.cfg.Aggregator)
	if err != nil {
		return err
	}
	interval := EffectiveInterval(n.cfg, res.Spec.Start, res.Spec.Start+res.Spec.Interval*int64(res.Spec.Count))
	out := res
	out.Series = make([]tsdata.Series, len(res.Series))
	for i, s := range res.Series {
		out.Series[i] = Downsample(s, res.Spec.Start, res.Spec.Start+res.Spec.Interval*int64(res.Spec.Count), interval, agg, n.cfg.Fill, n.cfg.FillScalar)
	}
	out.Spec = &timeutil.Spec{Start: res.Spec.Start, Interval: interval, Count: bucketCount(res.Spec.Start, res.Spec.Start+res.Spec.Interval*int64(res.Spec.Count), interval)}
	return n.Forward(ctx, out)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// EffectiveInterval resolves cfg's bucket width for the span [start, end):
// run_all collapses to one bucket, an explicit interval_seconds wins,
// otherwise the configured auto table picks an interval by span.
func EffectiveInterval(cfg Config, start, end int64) int64 {
	if cfg.RunAll {
		if end <= start {
			return 1
		}
		return end - start
	}
	if cfg.IntervalSeconds > 0 {
		return cfg.IntervalSeconds
	}
	span := end - start
	for _, r := range cfg.AutoTable {
		if span <= r.MaxSpanSeconds {
			return r.IntervalSeconds
		}
	}
	return 86400
}

func bucketCount(start, end, interval int64) int {
	if interval <= 0 {
		return 0
	}
	span := end - start
	if span <= 0 {
		return 0
	}
	n := int(span / interval)
	if span%interval != 0 {
		n++
	}
	return n
}

// Downsample aligns series to buckets of width interval within [start, end)
// using agg to reduce samples landing in each bucket, then fills empty
// buckets per fill/fillScalar.
func Downsample(s tsdata.Series, start, end, interval int64, agg aggregate.Func, fill timeutil.FillPolicy, fillScalar float64) tsdata.Series {
	n := bucketCount(start, end, interval)
	buckets := make([][]float64, n)

	for _, p := range s.Points {
		if p.Value.IsNaN() {
			continue
		}
		idx := int((p.Timestamp - start) / interval)
		if idx < 0 || idx >= n {
			continue
		}
		buckets[idx] = append(buckets[idx], float64(p.Value))
	}

	points := make([]tsdata.Point, n)
	var prevSet bool
	var prevVal tsdata.Float
	for i := 0; i < n; i++ {
		ts := start + int64(i)*interval
		if len(buckets[i]) > 0 {
			v := tsdata.Float(agg(buckets[i]))
			points[i] = tsdata.Point{Timestamp: ts, Value: v}
			prevSet = true
			prevVal = v
			continue
		}
		points[i] = tsdata.Point{Timestamp: ts, Value: fillValue(fill, fillScalar, prevSet, prevVal)}
	}

	// PREFER_NEXT needs a backward pass once the "next" value is known.
	if fill == timeutil.FillPreferNext {
		var nextSet bool
		var nextVal tsdata.Float
		for i := n - 1; i >= 0; i-- {
			if len(buckets[i]) > 0 {
				nextSet = true
				nextVal = points[i].Value
				continue
			}
			if nextSet {
				points[i].Value = nextVal
			}
		}
	}

	return tsdata.Series{ID: s.ID, Kind: tsdata.ValueScalar, Points: points, Tags: s.Tags}
}

func fillValue(fill timeutil.FillPolicy, scalar float64, prevSet bool, prevVal tsdata.Float) tsdata.Float {
	switch fill {
	case timeutil.FillZero:
		return 0
	case timeutil.FillNaN:
		return tsdata.NaN()
	case timeutil.FillScalar:
		return tsdata.Float(scalar)
	case timeutil.FillPreferPrevious:
		if prevSet {
			return prevVal
		}
		return tsdata.NaN()
	case timeutil.FillNull:
		return tsdata.NaN()
	default: // FillNone, FillPreferNext (resolved in a second pass)
		return tsdata.NaN()
	}
}
