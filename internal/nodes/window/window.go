// Package window implements the sliding-window processor node: on each
// emitted tick, produces an aggregate over samples in [t-W, t] (spec.md
// §4.5).
package window

import (
	"context"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("window", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := configFromOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: c}, nil
	})
}

// Config configures a sliding-window Node.
type Config struct {
	WidthSeconds int64
	Aggregator   string
}

func configFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{Aggregator: "avg", WidthSeconds: 3600}
	if opts == nil {
		return c, nil
	}
	if v, ok := opts["width_seconds"].(float64); ok {
		c.WidthSeconds = int64(v)
	}
	if v, ok := opts["aggregator"].(string); ok {
		c.Aggregator = v
	}
	return c, nil
}

// Node is the sliding-window processor.
type Node struct {
	nodes.Base
	cfg Config
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	agg, err := aggregate.Lookup(n.cfg.Aggregator)
	if err != nil {
		return err
	}
	out := res
	out.Series = make([]tsdata.Series, len(res.Series))
	for i, s := range res.Series {
		out.Series[i] = Apply(s, n.cfg.WidthSeconds, agg)
	}
	return n.Forward(ctx, out)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// Apply computes, for every input tick t, the aggregate over samples with
// timestamp in [t-width, t]. Points are time-ordered, so the window's
// start advances as a moving pointer; the window's values are gathered
// anew for every tick.
func Apply(s tsdata.Series, width int64, agg aggregate.Func) tsdata.Series {
	out := make([]tsdata.Point, len(s.Points))
	lo := 0
	for i, p := range s.Points {
		for lo < i && s.Points[lo].Timestamp < p.Timestamp-width {
			lo++
		}
		values := make([]float64, 0, i-lo+1)
		for j := lo; j <= i; j++ {
			if !s.Points[j].Value.IsNaN() {
				values = append(values, float64(s.Points[j].Value))
			}
		}
		out[i] = tsdata.Point{Timestamp: p.Timestamp, Value: tsdata.Float(agg(values))}
	}
	return tsdata.Series{ID: s.ID, Kind: tsdata.ValueScalar, Points: out, Tags: s.Tags}
}
