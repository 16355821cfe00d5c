// Package rate implements the Rate processor node: converts monotonically
// increasing counters to per-interval deltas, handling counter wraparound
// and reset suppression (spec.md §4.5).
package rate

import (
	"context"

	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("rate", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: ConfigFromOptions(cfg.Options)}, nil
	})
}

// Config configures a Rate node, matching the knobs named in spec.md §4.5.
type Config struct {
	Counter      bool
	CounterMax   float64
	ResetValue   float64 // 0 means unset/no suppression
	DropResets   bool
	DeltaOnly    bool
	RateToCount  bool
	Interval     float64 // normalizer, seconds; 0 uses the sample-to-sample delta
	DataInterval float64 // if set, used to insert gaps for missing samples
}

// ConfigFromOptions parses a Rate node's wire options. Exported so the
// datasource node can parse the same shape when a Rate node is push-down
// absorbed (spec.md §4.5 step 2).
func ConfigFromOptions(opts map[string]interface{}) Config {
	c := Config{CounterMax: float64(1<<63 - 1)}
	if opts == nil {
		return c
	}
	if v, ok := opts["counter"].(bool); ok {
		c.Counter = v
	}
	if v, ok := opts["counter_max"].(float64); ok {
		c.CounterMax = v
	}
	if v, ok := opts["reset_value"].(float64); ok {
		c.ResetValue = v
	}
	if v, ok := opts["drop_resets"].(bool); ok {
		c.DropResets = v
	}
	if v, ok := opts["delta_only"].(bool); ok {
		c.DeltaOnly = v
	}
	if v, ok := opts["rate_to_count"].(bool); ok {
		c.RateToCount = v
	}
	if v, ok := opts["interval"].(float64); ok {
		c.Interval = v
	}
	if v, ok := opts["data_interval"].(float64); ok {
		c.DataInterval = v
	}
	return c
}

// Node is the Rate processor.
type Node struct {
	nodes.Base
	cfg Config
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	out := res
	out.Series = make([]tsdata.Series, len(res.Series))
	for i, s := range res.Series {
		out.Series[i] = Apply(s, n.cfg)
	}
	return n.Forward(ctx, out)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// Apply computes the rate series for s per cfg; testable property 6 of
// spec.md §8 governs the reset-handling branches exercised here.
func Apply(s tsdata.Series, cfg Config) tsdata.Series {
	if len(s.Points) == 0 {
		return tsdata.Series{ID: s.ID, Kind: tsdata.ValueScalar, Tags: s.Tags}
	}

	out := make([]tsdata.Point, 0, len(s.Points)-1)
	prev := s.Points[0]
	for _, cur := range s.Points[1:] {
		dt := float64(cur.Timestamp - prev.Timestamp)
		if dt <= 0 {
			prev = cur
			continue
		}
		delta := float64(cur.Value) - float64(prev.Value)

		if delta < 0 {
			if cfg.Counter {
				delta = (cfg.CounterMax - float64(prev.Value)) + float64(cur.Value)
			}
			if cfg.ResetValue > 0 {
				rate := delta
				if !cfg.DeltaOnly {
					rate = delta / dt
				}
				if rate > cfg.ResetValue {
					if cfg.DropResets {
						prev = cur
						continue
					}
					out = append(out, tsdata.Point{Timestamp: cur.Timestamp, Value: 0})
					prev = cur
					continue
				}
			}
		}

		var value float64
		switch {
		case cfg.DeltaOnly:
			value = delta
		case cfg.RateToCount:
			interval := cfg.Interval
			if interval == 0 {
				interval = dt
			}
			value = delta * cfg.DataInterval / interval
		default:
			interval := cfg.Interval
			if interval == 0 {
				interval = dt
			}
			value = delta / interval
		}
		out = append(out, tsdata.Point{Timestamp: cur.Timestamp, Value: tsdata.Float(value)})
		prev = cur
	}

	return tsdata.Series{ID: s.ID, Kind: tsdata.ValueScalar, Points: out, Tags: s.Tags}
}
