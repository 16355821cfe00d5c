// Package nodes provides the shared scaffolding every processor node
// (downsample, rate, window, groupby, expression, summarizer) builds on:
// sink fan-out and the default completion/error forwarding behavior
// required by spec.md §4.5's node contract.
package nodes

import (
	"context"
	"sync"

	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Base implements the bookkeeping parts of pipeline.Node (id, sink
// fan-out, exactly-once error forwarding) so each processor only needs to
// implement its transform in OnNext/OnPartial.
type Base struct {
	NodeID string

	mu       sync.Mutex
	sinks    []pipeline.Node
	errOnce  sync.Once
}

func (b *Base) ID() string { return b.NodeID }

// AddSink registers a downstream node to receive this node's output.
func (b *Base) AddSink(n pipeline.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, n)
}

func (b *Base) Sinks() []pipeline.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pipeline.Node{}, b.sinks...)
}

// Forward pushes one result to every registered sink, stopping at the
// first error.
func (b *Base) Forward(ctx context.Context, res tsdata.Result) error {
	for _, s := range b.Sinks() {
		if err := s.OnNext(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// ForwardPartial pushes one partial set to every registered sink.
func (b *Base) ForwardPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	for _, s := range b.Sinks() {
		if err := s.OnPartial(ctx, set); err != nil {
			return err
		}
	}
	return nil
}

// OnComplete forwards completion to every sink; default implementation for
// nodes that don't need to alter completion accounting.
func (b *Base) OnComplete(ctx context.Context, fromNode, dataSourceID string, finalSeq, totalSeq int64) error {
	for _, s := range b.Sinks() {
		if err := s.OnComplete(ctx, b.NodeID, dataSourceID, finalSeq, totalSeq); err != nil {
			return err
		}
	}
	return nil
}

// OnError forwards a terminal error to every sink exactly once, per the
// propagation rule in spec.md §7.
func (b *Base) OnError(ctx context.Context, err error) error {
	var forwardErr error
	b.errOnce.Do(func() {
		for _, s := range b.Sinks() {
			if e := s.OnError(ctx, err); e != nil {
				forwardErr = e
			}
		}
	})
	return forwardErr
}
