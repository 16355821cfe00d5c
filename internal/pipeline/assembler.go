package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/tsqueng/coreengine/internal/timeutil"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// assembler sits between a data-source leaf and its real downstream
// consumers. A leaf has no OnNext of its own to call against them (spec.md
// §4.4's setup algorithm only streams partials), so the assembler buffers
// one data source's PartialTimeSeriesSet stream and, once the source's
// OnComplete arrives, merges it by sequence into a tsdata.Result and dispatches it
// to every consumer through the owning Context — the single point where
// this engine's streaming-partial path and its complete-Result path meet.
type assembler struct {
	ctx          *Context
	sourceNodeID string
	downstream   []string

	mu      sync.Mutex
	pending map[string][]tsdata.PartialTimeSeriesSet // sourceNodeID -> buffered partials
}

func newAssembler(ctx *Context, sourceNodeID string, downstream []string) *assembler {
	return &assembler{ctx: ctx, sourceNodeID: sourceNodeID, downstream: downstream, pending: map[string][]tsdata.PartialTimeSeriesSet{}}
}

// addDownstream registers an additional consumer id for this data source's
// assembled Result. Only safe to call before the owning leaf starts
// running (internal/engine.Build calls this while wiring root sinks,
// before Initialize/Run).
func (a *assembler) addDownstream(id string) {
	a.mu.Lock()
	a.downstream = append(a.downstream, id)
	a.mu.Unlock()
}

func (a *assembler) ID() string                                { return "assembler:" + a.sourceNodeID }
func (a *assembler) Initialize(context.Context) error          { return nil }
func (a *assembler) OnNext(context.Context, tsdata.Result) error { return nil }

func (a *assembler) OnPartial(_ context.Context, set tsdata.PartialTimeSeriesSet) error {
	a.mu.Lock()
	a.pending[a.sourceNodeID] = append(a.pending[a.sourceNodeID], set)
	a.mu.Unlock()
	return nil
}

// OnComplete merges the buffered partials for dataSourceID into one Result
// and dispatches it, in order, to every real downstream consumer.
func (a *assembler) OnComplete(_ context.Context, fromNode, dataSourceID string, finalSeq, totalSeq int64) error {
	a.mu.Lock()
	parts := a.pending[a.sourceNodeID]
	delete(a.pending, a.sourceNodeID)
	a.mu.Unlock()

	res := mergePartials(fromNode, dataSourceID, parts)
	for _, downID := range a.downstream {
		if err := a.ctx.Dispatch(downID, res); err != nil {
			return err
		}
	}
	for _, downID := range a.downstream {
		if err := a.ctx.Complete(downID, dataSourceID, finalSeq, totalSeq); err != nil {
			return err
		}
	}
	return nil
}

func (a *assembler) OnError(_ context.Context, err error) error {
	for _, downID := range a.downstream {
		a.ctx.Fail(downID, err)
	}
	return nil
}

// mergePartials concatenates same-series points/summary ticks across
// sequence-ordered partials into one per-series Result, preserving arrival
// order within each TSUID (spec.md §5's per-stream ascending sequence
// contract already guarantees partials arrive in order; this only needs to
// sort defensively in case a caller injects out-of-order test fixtures).
func mergePartials(fromNode, dataSourceID string, parts []tsdata.PartialTimeSeriesSet) tsdata.Result {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Sequence < parts[j].Sequence })

	order := make([]string, 0, 8)
	byKey := make(map[string]*tsdata.Series, 8)
	for _, p := range parts {
		for _, s := range p.Series {
			key := string(s.ID.TSUID)
			existing, ok := byKey[key]
			if !ok {
				cp := s
				byKey[key] = &cp
				order = append(order, key)
				continue
			}
			existing.Points = append(existing.Points, s.Points...)
			existing.Summary = append(existing.Summary, s.Summary...)
			if existing.Array == nil {
				existing.Array = s.Array
			}
		}
	}

	res := tsdata.Result{SourceNodeID: fromNode, DataSourceID: dataSourceID}
	res.Series = make([]tsdata.Series, 0, len(order))
	for _, k := range order {
		res.Series = append(res.Series, *byKey[k])
	}
	if len(parts) > 0 {
		// Every partial from one emitter carries the same query window
		// (internal/datasource's emitter stamps Start/End on each batch);
		// downstream nodes like Downsample need it to bucket correctly.
		p := parts[0]
		res.Spec = &timeutil.Spec{Start: p.Start, Interval: p.End - p.Start, Count: 1}
	}
	return res
}

var _ Node = (*assembler)(nil)

// Collector is a standalone sink that buffers one data source's partials
// and exposes the merged Result once OnComplete fires, for callers that
// need a leaf's output without wiring it into a full Context (the segment
// cache's live sub-query path in internal/engine runs a scratch copy of a
// data-source node against one segment's range and needs exactly this).
type Collector struct {
	dataSourceID string

	mu      sync.Mutex
	parts   []tsdata.PartialTimeSeriesSet
	done    chan struct{}
	result  tsdata.Result
	err     error
}

// NewCollector builds a Collector for the given data_source_id.
func NewCollector(dataSourceID string) *Collector {
	return &Collector{dataSourceID: dataSourceID, done: make(chan struct{})}
}

func (c *Collector) ID() string                       { return "collector:" + c.dataSourceID }
func (c *Collector) Initialize(context.Context) error { return nil }
func (c *Collector) OnNext(context.Context, tsdata.Result) error { return nil }

func (c *Collector) OnPartial(_ context.Context, set tsdata.PartialTimeSeriesSet) error {
	c.mu.Lock()
	c.parts = append(c.parts, set)
	c.mu.Unlock()
	return nil
}

func (c *Collector) OnComplete(_ context.Context, fromNode, dataSourceID string, _, _ int64) error {
	c.mu.Lock()
	parts := c.parts
	c.mu.Unlock()
	c.result = mergePartials(fromNode, dataSourceID, parts)
	close(c.done)
	return nil
}

func (c *Collector) OnError(_ context.Context, err error) error {
	c.err = err
	close(c.done)
	return nil
}

// Done reports completion or error; callers should select on it against
// their own context's Done channel.
func (c *Collector) Done() <-chan struct{} { return c.done }

// Result returns the merged Result; only valid after Done is closed with a
// nil Err.
func (c *Collector) Result() tsdata.Result { return c.result }

// Err returns the terminal error, if OnError fired instead of OnComplete.
func (c *Collector) Err() error { return c.err }

var _ Node = (*Collector)(nil)
