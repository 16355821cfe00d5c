// Package pipeline implements the DAG of streaming nodes described in
// spec.md §4.5: node lifecycle, planner (graph build, reference resolution,
// cycle detection, push-down), and completion accounting.
package pipeline

import (
	"context"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Node is the shared contract every pipeline stage implements. Calls for a
// given (node, data_source_id) stream arrive from one goroutine at a time
// and in ascending sequence order (spec.md §5); different streams may run
// concurrently.
type Node interface {
	ID() string

	// Initialize prepares the node to receive results; called once before
	// any OnNext/OnPartial.
	Initialize(ctx context.Context) error

	// OnNext delivers one complete query result from an upstream node.
	OnNext(ctx context.Context, res tsdata.Result) error

	// OnPartial delivers one streamed slice of a series.
	OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error

	// OnComplete signals the end of one upstream's stream. Delivered
	// exactly once per upstream per (node, data_source_id) stream.
	OnComplete(ctx context.Context, fromNode, dataSourceID string, finalSeq, totalSeq int64) error

	// OnError is a terminal error; the node forwards it to all of its own
	// sinks exactly once, then transitions to terminal state.
	OnError(ctx context.Context, err error) error
}

// Sinkable is implemented by nodes that fan results out to one or more
// downstream nodes (every non-root node in the graph).
type Sinkable interface {
	AddSink(n Node)
}

// Factory constructs a Node from its parsed config. Nodes register a
// Factory at startup keyed by config type tag, replacing reflection-based
// discovery (spec.md §9 Design Notes).
type Factory func(cfg NodeConfig) (Node, error)

var registry = map[string]Factory{}

// Register adds a node Factory for the given config "type" tag. Intended to
// be called from package init() in each internal/nodes/* subpackage.
func Register(nodeType string, f Factory) {
	registry[nodeType] = f
}

// Build dispatches to the registered Factory for cfg.Type.
func Build(cfg NodeConfig) (Node, error) {
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, errUnknownType(cfg.Type)
	}
	return f(cfg)
}
