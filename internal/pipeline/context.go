package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/internal/tsdata"
	"github.com/tsqueng/coreengine/pkg/log"
)

// Context owns the instantiated node table for one query and provides the
// cancellation/timeout/completion bookkeeping described in spec.md §5 and
// the "acyclic ownership" design note in spec.md §9: the context exclusively
// owns nodes, callbacks reference nodes by id rather than back-pointers.
type Context struct {
	graph *Graph
	nodes map[string]Node

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	errOnce     map[string]*sync.Once
	fatalErr    error
	completions map[string]map[string]int64 // node -> data_source_id -> -1 once completed
	assemblers  map[string]*assembler        // data_source_id -> its shared assembler
}

// NewContext builds a Context from a planned Graph, instantiating every
// non-absorbed node via its registered Factory, and arms deadline as the
// query's absolute timeout (spec.md §5 "Timeouts").
func NewContext(parent context.Context, g *Graph, deadline time.Time) (*Context, error) {
	cctx, cancel := context.WithDeadline(parent, deadline)

	nodes := make(map[string]Node, len(g.Order))
	once := make(map[string]*sync.Once, len(g.Order))
	for _, id := range g.Order {
		if _, skip := g.Absorbed[id]; skip {
			continue
		}
		n, err := Build(g.Configs[id])
		if err != nil {
			cancel()
			return nil, queryerr.New(queryerr.KindFatal, "pipeline.NewContext", err)
		}
		nodes[id] = n
		once[id] = &sync.Once{}
	}

	// Wire each node's sinks from the planned edges, resolving an absorbed
	// node's id to the datasource that absorbed it, since an absorbed node
	// has no instance of its own (spec.md §4.5 step 2 push-down).
	resolve := func(id string) string {
		for {
			up, absorbed := g.Absorbed[id]
			if !absorbed {
				return id
			}
			id = up
		}
	}

	c := &Context{
		graph:       g,
		nodes:       nodes,
		ctx:         cctx,
		cancel:      cancel,
		errOnce:     once,
		completions: make(map[string]map[string]int64),
		assemblers:  make(map[string]*assembler),
	}

	// A data-source leaf never calls OnNext on its sinks (spec.md §4.4's
	// setup algorithm only streams ForwardPartial + OnComplete), so wiring
	// it straight to its real downstream nodes would leave every Rate,
	// Downsample, GroupBy, Window, and Expression op downstream of it
	// permanently starved of input. Route each data-source's edges through
	// a per-source assembler instead, which buffers the partials and
	// dispatches one assembled Result via Context.Dispatch once the source
	// completes.
	downstreamOf := make(map[string]map[string]bool)
	for _, id := range g.Order {
		targetID := resolve(id)
		if g.Configs[targetID].Type != dataSourceNodeType {
			continue
		}
		set, ok := downstreamOf[targetID]
		if !ok {
			set = map[string]bool{}
			downstreamOf[targetID] = set
		}
		for _, downID := range g.Downstream[id] {
			downTargetID := resolve(downID)
			if downTargetID != targetID {
				set[downTargetID] = true
			}
		}
	}
	for dsID, set := range downstreamOf {
		target, ok := nodes[dsID]
		if !ok {
			continue
		}
		sinkable, ok := target.(Sinkable)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		asm := newAssembler(c, dsID, ids)
		sinkable.AddSink(asm)
		c.assemblers[dsID] = asm
	}

	// Wire every other edge (non-data-source source nodes) directly; these
	// already use OnNext/Forward for their real transform per spec.md §4.5.
	for _, id := range g.Order {
		targetID := resolve(id)
		if g.Configs[targetID].Type == dataSourceNodeType {
			continue
		}
		target, ok := nodes[targetID]
		if !ok {
			continue
		}
		sinkable, ok := target.(Sinkable)
		if !ok {
			continue
		}
		for _, downID := range g.Downstream[id] {
			downTargetID := resolve(downID)
			if downTargetID == targetID {
				// The absorbed node's own edge back to its absorbing
				// datasource; push-down already accounts for it in-line.
				continue
			}
			if down, ok := nodes[downTargetID]; ok {
				sinkable.AddSink(down)
			}
		}
	}

	return c, nil
}

// Ctx returns the query-scoped context carrying the deadline and
// cancellation signal.
func (c *Context) Ctx() context.Context { return c.ctx }

// Cancelled reports whether the query context has been cancelled, timed
// out, or reached a fatal error (spec.md §5 "Cancellation").
func (c *Context) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Initialize calls Initialize on every owned node, leaves first.
func (c *Context) Initialize() error {
	for _, id := range c.graph.Order {
		n, ok := c.nodes[id]
		if !ok {
			continue
		}
		if err := n.Initialize(c.ctx); err != nil {
			return queryerr.New(queryerr.KindFatal, "pipeline.Initialize", err)
		}
	}
	return nil
}

// AttachRootSink wires sink as an additional consumer of nodeID's output,
// for callers (internal/engine) that need to attach a query's root sink
// after the graph has already been built by NewContext. If nodeID names a
// data-source leaf, sink is registered into this Context's node table and
// added to the leaf's shared assembler, so it receives the same assembled
// Result the leaf's real downstream consumers do; otherwise sink is added
// directly via the target's own Sinkable.AddSink. Must be called before
// Initialize/any leaf starts running.
func (c *Context) AttachRootSink(nodeID string, sink Node) error {
	if asm, ok := c.assemblers[nodeID]; ok {
		c.nodes[sink.ID()] = sink
		c.errOnce[sink.ID()] = &sync.Once{}
		asm.addDownstream(sink.ID())
		return nil
	}
	target, ok := c.nodes[nodeID]
	if !ok {
		return queryerr.Newf(queryerr.KindFatal, "pipeline.AttachRootSink", "unknown node %q", nodeID)
	}
	sinkable, ok := target.(Sinkable)
	if !ok {
		return queryerr.Newf(queryerr.KindFatal, "pipeline.AttachRootSink", "node %q does not accept sinks", nodeID)
	}
	sinkable.AddSink(sink)
	return nil
}

// Node looks up an owned node by id.
func (c *Context) Node(id string) (Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Dispatch delivers one result to a node's OnNext. A cancelled query gets a
// Cancelled error instead; an OnNext error is also passed to Fail.
func (c *Context) Dispatch(nodeID string, res tsdata.Result) error {
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil
	}
	if c.Cancelled() {
		return queryerr.New(queryerr.KindCancelled, "pipeline.Dispatch", c.ctx.Err())
	}
	if err := n.OnNext(c.ctx, res); err != nil {
		c.Fail(nodeID, err)
		return err
	}
	return nil
}

// Complete records that (nodeID, dataSourceID) has completed and forwards
// OnComplete; later calls for the same pair are ignored, enforcing the
// exactly-once-per-upstream rule from spec.md §5.
func (c *Context) Complete(nodeID, dataSourceID string, finalSeq, totalSeq int64) error {
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil
	}
	c.mu.Lock()
	bySource, ok := c.completions[nodeID]
	if !ok {
		bySource = make(map[string]int64)
		c.completions[nodeID] = bySource
	}
	already := bySource[dataSourceID] < 0
	if !already {
		bySource[dataSourceID] = -1 // sentinel: completed
	}
	c.mu.Unlock()
	if already {
		return nil
	}
	return n.OnComplete(c.ctx, nodeID, dataSourceID, finalSeq, totalSeq)
}

// Fail forwards a terminal error to the named node exactly once, per the
// error-propagation rule in spec.md §7 ("a node that receives an error
// emits on_error to every upstream exactly once").
func (c *Context) Fail(nodeID string, err error) {
	once, ok := c.errOnce[nodeID]
	if !ok {
		return
	}
	once.Do(func() {
		c.mu.Lock()
		if c.fatalErr == nil {
			c.fatalErr = err
		}
		c.mu.Unlock()
		if n, ok := c.nodes[nodeID]; ok {
			if cbErr := n.OnError(c.ctx, err); cbErr != nil {
				log.Warnf("pipeline: node %s OnError handler failed: %v", nodeID, cbErr)
			}
		}
		if queryerr.Is(err, queryerr.KindFatal) {
			c.cancel()
		}
	})
}

// Err returns the first fatal error recorded for this query, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Close releases the query context's resources. Safe to call multiple
// times.
func (c *Context) Close() { c.cancel() }
