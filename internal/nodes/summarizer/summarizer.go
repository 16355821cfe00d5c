// Package summarizer implements the Summarizer processor node: a terminal
// per-series reducer emitting one or more scalar summaries from any
// numeric input (spec.md §4.5). Neither the node nor the planner checks
// that it sits in a terminal position; it forwards its summaries to
// whatever sinks are attached.
package summarizer

import (
	"context"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("summarizer", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := configFromOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: c}, nil
	})
}

// Config configures a Summarizer node: one or more named aggregators, each
// producing a one-point-per-series summary output.
type Config struct {
	Aggregators []string
}

func configFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{Aggregators: []string{"avg"}}
	if opts == nil {
		return c, nil
	}
	if v, ok := opts["aggregators"].([]interface{}); ok {
		c.Aggregators = nil
		for _, a := range v {
			if s, ok := a.(string); ok {
				c.Aggregators = append(c.Aggregators, s)
			}
		}
	}
	return c, nil
}

// Node is the Summarizer processor.
type Node struct {
	nodes.Base
	cfg Config
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	out := res
	summarized := make([]tsdata.Series, 0, len(res.Series)*len(n.cfg.Aggregators))
	for _, s := range res.Series {
		summaries, err := Summarize(s, n.cfg.Aggregators)
		if err != nil {
			return err
		}
		summarized = append(summarized, summaries...)
	}
	out.Series = summarized
	return n.Forward(ctx, out)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// Summarize reduces s's whole point range to one scalar per configured
// aggregator name, each as a one-point series labeled "<id>:<aggregator>".
func Summarize(s tsdata.Series, aggregators []string) ([]tsdata.Series, error) {
	values := make([]float64, 0, len(s.Points))
	var last int64
	for _, p := range s.Points {
		if !p.Value.IsNaN() {
			values = append(values, float64(p.Value))
		}
		last = p.Timestamp
	}

	out := make([]tsdata.Series, 0, len(aggregators))
	for _, name := range aggregators {
		fn, err := aggregate.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, tsdata.Series{
			ID:     tsdata.ID{TSUID: s.ID.TSUID, Label: s.ID.Label + ":" + name},
			Kind:   tsdata.ValueScalar,
			Points: []tsdata.Point{{Timestamp: last, Value: tsdata.Float(fn(values))}},
			Tags:   s.Tags,
		})
	}
	return out, nil
}
