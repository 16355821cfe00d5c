// Package engine is the library entry point spec.md's "CLI and process"
// section names: "the core exposes a library entry point
// QueryContext::build(query, sinks); initialize() -> Future<()>;
// fetch_next(); close()". It is the piece that ties every other package
// together: parse the wire query (internal/queryconfig), plan and
// instantiate the pipeline graph (internal/pipeline), drive each
// data-source leaf optionally through the segment cache
// (internal/segcache, internal/resultcodec), and deliver results to
// caller-supplied sinks.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tsqueng/coreengine/internal/datasource"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/queryconfig"
	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/internal/resultcodec"
	"github.com/tsqueng/coreengine/internal/segcache"
	"github.com/tsqueng/coreengine/internal/tsdata"
	"github.com/tsqueng/coreengine/pkg/log"
)

// Sink is "the consumer at the root of the pipeline that receives results
// and signals completion" (spec.md §9 glossary). Build requires exactly
// one Sink per root node in the query's execution graph.
type Sink interface {
	OnResult(res tsdata.Result) error
	OnComplete(dataSourceID string) error
	OnError(err error)
}

// Event is what FetchNext returns: one root's stream reached completion
// (or failed), or the whole query is done.
type Event struct {
	RootID string
	Err    error
	Done   bool
}

// runner is implemented by *datasource.Node; asserted against rather than
// referenced by concrete type everywhere so the only place this package
// depends on datasource's internals is runLeaf/captureLeaf below.
type runner interface {
	Run(ctx context.Context, dataSourceID string) error
}

// QueryContext is the engine's per-query handle: spec.md's
// "QueryContext::build/initialize/fetch_next/close".
type QueryContext struct {
	pctx  *pipeline.Context
	graph *pipeline.Graph
	roots []string

	cache     *segcache.Coordinator
	cacheMode segcache.Mode
	queryHash uint64

	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

// Build parses queryJSON, plans the execution graph, and wires one sink
// adapter per root node (a node nothing else in the graph reads from).
// cache may be nil; a nil cache forces every leaf straight to the store,
// matching spec.md §4.7's behavior for a deployment with no segment cache
// configured. now is the reference instant relative time expressions
// resolve against; timeout bounds the whole query (spec.md §5 "Timeouts").
func Build(parent context.Context, queryJSON []byte, sinks map[string]Sink, cache *segcache.Coordinator, now time.Time, timeout time.Duration) (*QueryContext, error) {
	parsed, err := queryconfig.Parse(queryJSON, now)
	if err != nil {
		return nil, err
	}

	roots := rootIDs(parsed.Nodes)
	for _, r := range roots {
		if _, ok := sinks[r]; !ok {
			return nil, queryerr.Newf(queryerr.KindValidation, "engine.Build", "no sink supplied for root node %q", r)
		}
	}

	graph, err := pipeline.Plan(parsed.Nodes, roots)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pctx, err := pipeline.NewContext(parent, graph, now.Add(timeout))
	if err != nil {
		return nil, err
	}

	qc := &QueryContext{
		pctx:      pctx,
		graph:     graph,
		roots:     roots,
		cache:     cache,
		cacheMode: cacheModeOf(parsed.CacheMode),
		queryHash: xxhash.Sum64(queryJSON),
		events:    make(chan Event, len(roots)*2+1),
	}

	for _, r := range roots {
		target := resolveAbsorbed(graph, r)
		if err := pctx.AttachRootSink(target, &sinkAdapter{rootID: r, sink: sinks[r], qc: qc}); err != nil {
			return nil, err
		}
	}

	return qc, nil
}

// rootIDs returns every node id that no other node declares as a source:
// the terminal consumers of the graph (spec.md glossary's "Sink").
func rootIDs(nodes []pipeline.NodeConfig) []string {
	hasConsumer := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		for _, s := range n.Sources {
			hasConsumer[s] = true
		}
	}
	var roots []string
	for _, n := range nodes {
		if !hasConsumer[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

func resolveAbsorbed(g *pipeline.Graph, id string) string {
	for {
		up, absorbed := g.Absorbed[id]
		if !absorbed {
			return id
		}
		id = up
	}
}

func cacheModeOf(wire string) segcache.Mode {
	switch wire {
	case "readonly":
		return segcache.ModeReadOnly
	case "writeonly":
		return segcache.ModeWriteOnly
	case "bypass", "disabled":
		return segcache.ModeBypass
	case "clear":
		return segcache.ModeClear
	default:
		return segcache.ModeNormal
	}
}

// Initialize prepares every node (spec.md's "initialize() -> Future<()>")
// and kicks off execution of every data-source leaf concurrently; results
// stream to the Sinks supplied at Build as they become available, and
// FetchNext reports root-level progress.
func (qc *QueryContext) Initialize(ctx context.Context) error {
	if err := qc.pctx.Initialize(); err != nil {
		return err
	}

	var leaves []string
	for _, id := range qc.graph.Order {
		if qc.graph.Configs[id].Type == pipeline.DataSourceNodeType {
			leaves = append(leaves, id)
		}
	}

	qc.wg.Add(len(leaves))
	for _, id := range leaves {
		id := id
		go func() {
			defer qc.wg.Done()
			if err := qc.runLeaf(ctx, id); err != nil {
				qc.pctx.Fail(id, err)
				log.Warnf("engine: data source %s failed: %v", id, err)
			}
		}()
	}
	go func() {
		qc.wg.Wait()
		qc.once.Do(func() { close(qc.events) })
	}()
	return nil
}

// FetchNext blocks for the next root-completion/error event. ok is false
// once every root has reported and no more events will arrive, matching
// spec.md's pull-style "fetch_next()" handle on an otherwise push-style
// (Sink-delivered) result stream.
func (qc *QueryContext) FetchNext() (Event, bool) {
	ev, ok := <-qc.events
	return ev, ok
}

// Close releases the query's pipeline context (cancels any still-running
// leaf). Safe to call multiple times.
func (qc *QueryContext) Close() {
	qc.pctx.Close()
}

// runLeaf drives one data-source leaf, routing it through the segment
// cache when one is configured and the query didn't request BYPASS.
func (qc *QueryContext) runLeaf(ctx context.Context, leafID string) error {
	n, ok := qc.pctx.Node(leafID)
	if !ok {
		return nil
	}
	r, ok := n.(runner)
	if !ok {
		return queryerr.Newf(queryerr.KindFatal, "engine.runLeaf", "node %q is not a data-source leaf", leafID)
	}

	if qc.cache == nil || qc.cacheMode == segcache.ModeBypass {
		return r.Run(ctx, leafID)
	}

	dsNode, ok := n.(*datasource.Node)
	if !ok {
		return r.Run(ctx, leafID)
	}

	dsIntervalSeconds, runAll := leafCacheParams(qc.graph.Configs[leafID])
	minInterval := dsIntervalSeconds
	if minInterval <= 0 {
		minInterval = 60
	}

	live := func(ctx context.Context, start, end int64) ([]byte, time.Time, bool, error) {
		res, err := qc.captureLeaf(ctx, dsNode, leafID, start, end)
		if err != nil {
			return nil, time.Time{}, false, err
		}
		payload, err := resultcodec.Encode(res)
		if err != nil {
			return nil, time.Time{}, false, fmt.Errorf("engine: encoding %s for cache: %w", leafID, err)
		}
		return payload, time.Now(), true, nil
	}

	payloads, err := qc.cache.Execute(ctx, qc.cacheMode, qc.queryHash^xxhash.Sum64String(leafID),
		dsNode.Config.Start, dsNode.Config.End, dsIntervalSeconds, minInterval, runAll, live)
	if err != nil {
		return err
	}

	targets := downstreamTargets(qc.graph, leafID)
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		res, err := resultcodec.Decode(p)
		if err != nil {
			return fmt.Errorf("engine: decoding cached payload for %s: %w", leafID, err)
		}
		res.SourceNodeID = leafID
		res.DataSourceID = leafID
		for _, t := range targets {
			if err := qc.pctx.Dispatch(t, res); err != nil {
				return err
			}
		}
	}
	for _, t := range targets {
		if err := qc.pctx.Complete(t, leafID, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// captureLeaf runs a scratch copy of dsNode over [start, end) and returns
// its assembled Result, without touching dsNode's own sinks (which are
// wired into the live pipeline's assembler and would otherwise see every
// cache-fill sub-query as if it were the query's real output).
func (qc *QueryContext) captureLeaf(ctx context.Context, dsNode *datasource.Node, leafID string, start, end int64) (tsdata.Result, error) {
	cfg := dsNode.Config
	cfg.Start, cfg.End = start, end
	scratch := datasource.NewNode(leafID, dsNode.Catalog, dsNode.Store, dsNode.RowKeyCfg, dsNode.Meta, cfg)
	scratch.Metrics = dsNode.Metrics

	collector := pipeline.NewCollector(leafID)
	scratch.AddSink(collector)

	if err := scratch.Run(ctx, leafID); err != nil {
		return tsdata.Result{}, err
	}
	select {
	case <-collector.Done():
	case <-ctx.Done():
		return tsdata.Result{}, ctx.Err()
	}
	if err := collector.Err(); err != nil {
		return tsdata.Result{}, err
	}
	return collector.Result(), nil
}

// downstreamTargets resolves leafID's real (non-absorbed) consumer ids,
// the same absorption-aware resolution pipeline.NewContext's assembler
// wiring performs for the direct-run path.
func downstreamTargets(g *pipeline.Graph, leafID string) []string {
	seen := map[string]bool{}
	var out []string
	for _, downID := range g.Downstream[leafID] {
		target := resolveAbsorbed(g, downID)
		if target == leafID || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

// leafCacheParams extracts the effective downsample interval and run_all
// flag a leaf's (possibly push-down absorbed) downsample config implies,
// for the segment cache's boundary/bypass decision (spec.md §4.7).
func leafCacheParams(cfg pipeline.NodeConfig) (dsIntervalSeconds int64, runAll bool) {
	if pd, ok := cfg.Options[pipeline.PushDownKey].(pipeline.NodeConfig); ok && pd.Type == "downsample" {
		if v, ok := pd.Options["run_all"].(bool); ok {
			runAll = v
		}
		if v, ok := pd.Options["interval_seconds"].(float64); ok {
			dsIntervalSeconds = int64(v)
		}
		return dsIntervalSeconds, runAll
	}
	if v, ok := cfg.Options["downsample_hint_seconds"].(float64); ok {
		return int64(v), false
	}
	return 0, false
}

// sinkAdapter is the pipeline.Node wired onto a root's sink list; it
// forwards OnNext/OnComplete/OnError to the caller-supplied Sink and
// emits an Event for FetchNext.
type sinkAdapter struct {
	rootID string
	sink   Sink
	qc     *QueryContext
}

func (a *sinkAdapter) ID() string                       { return "sink:" + a.rootID }
func (a *sinkAdapter) Initialize(context.Context) error { return nil }

func (a *sinkAdapter) OnNext(_ context.Context, res tsdata.Result) error {
	return a.sink.OnResult(res)
}

func (a *sinkAdapter) OnPartial(context.Context, tsdata.PartialTimeSeriesSet) error {
	return nil
}

func (a *sinkAdapter) OnComplete(_ context.Context, _, dataSourceID string, _, _ int64) error {
	if err := a.sink.OnComplete(dataSourceID); err != nil {
		return err
	}
	a.qc.events <- Event{RootID: a.rootID}
	return nil
}

func (a *sinkAdapter) OnError(_ context.Context, err error) error {
	a.sink.OnError(err)
	a.qc.events <- Event{RootID: a.rootID, Err: err}
	return nil
}

var _ pipeline.Node = (*sinkAdapter)(nil)
