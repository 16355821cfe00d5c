package datasource

import (
	"context"
	"time"

	"github.com/tsqueng/coreengine/internal/catalog"
	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Node is the pipeline graph's leaf: it never receives OnNext/OnPartial
// (nothing sits upstream of it), and is instead driven directly by the
// query executor via Run once the graph's other nodes have Initialize'd.
type Node struct {
	nodes.Base

	Catalog   *catalog.Cache
	Store     storeapi.Store
	RowKeyCfg rowkey.Config
	Meta      MetaPlugin // nil => always scan
	Config    Config
	Policy    codec.Policy
	Metrics   Metrics
}

// NewNode builds a data-source leaf bound to id, wired to catalog/store
// collaborators and the resolved query source config.
func NewNode(id string, cat *catalog.Cache, store storeapi.Store, rowKeyCfg rowkey.Config, meta MetaPlugin, cfg Config) *Node {
	policy := codec.PolicyFailScan
	if cfg.ContinueOnRowError {
		policy = codec.PolicySkipBadCells
	}
	return &Node{Base: nodes.Base{NodeID: id}, Catalog: cat, Store: store, RowKeyCfg: rowKeyCfg, Meta: meta, Config: cfg, Policy: policy}
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

// OnNext/OnPartial are unreachable for a leaf node but implemented to
// satisfy pipeline.Node.
func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error { return nil }
func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return nil
}

// Run executes the setup algorithm and streams decoded series to this
// node's sinks, then signals completion (spec.md §4.4).
func (n *Node) Run(ctx context.Context, dataSourceID string) error {
	metricUID, ok, err := n.Catalog.GetID(ctx, catalog.KindMetric, n.Config.Metric)
	if err != nil {
		n.Base.OnError(ctx, err)
		return err
	}
	if !ok {
		if !n.Config.SkipNSUNMetric {
			e := queryerr.NoSuchName("datasource.Run", n.Config.Metric)
			n.Base.OnError(ctx, e)
			return e
		}
		return n.emitEmptyAndComplete(ctx, dataSourceID)
	}

	filters, err := n.resolveFilters(ctx)
	if err != nil {
		n.Base.OnError(ctx, err)
		return err
	}

	scanStart := time.Now()
	series, err := n.fetchSeries(ctx, metricUID, filters)
	n.Metrics.latencyMs(float64(time.Since(scanStart).Milliseconds()))
	if err != nil {
		if queryerr.Is(err, queryerr.KindCancelled) {
			n.Base.OnError(ctx, err)
			return err
		}
		n.Base.OnError(ctx, queryerr.New(queryerr.KindStorage, "datasource.Run", err))
		return err
	}

	em := newEmitter(n.Base.ForwardPartial, n.Config.Start, n.Config.End, n.Config.Limits)
	for _, s := range series {
		for i := 0; i < s.Len(); i++ {
			n.Metrics.rows()
		}
		n.Metrics.bytes(s.Len() * bytesPerPoint)
		s = n.Config.PostTransform.apply(s, n.Config.Start, n.Config.End)
		s = applyDownsampleHint(s, n.Config.DownsampleHintSeconds)
		if err := em.Emit(ctx, s); err != nil {
			n.Base.OnError(ctx, err)
			return err
		}
	}
	finalSeq, totalSeq, err := em.Finish(ctx)
	if err != nil {
		n.Base.OnError(ctx, err)
		return err
	}
	return n.Base.OnComplete(ctx, n.NodeID, dataSourceID, finalSeq, totalSeq)
}

func (n *Node) emitEmptyAndComplete(ctx context.Context, dataSourceID string) error {
	em := newEmitter(n.Base.ForwardPartial, n.Config.Start, n.Config.End, n.Config.Limits)
	finalSeq, totalSeq, err := em.Finish(ctx)
	if err != nil {
		return err
	}
	return n.Base.OnComplete(ctx, n.NodeID, dataSourceID, finalSeq, totalSeq)
}

// resolveFilters resolves each literal tag filter to its UID pair,
// dropping or failing per the skip_nsun_tagk/tagv flags (spec.md §4.4
// step 2).
func (n *Node) resolveFilters(ctx context.Context) ([]FilterUID, error) {
	var out []FilterUID
	for _, f := range n.Config.Filters {
		tk, ok, err := n.Catalog.GetID(ctx, catalog.KindTagKey, f.TagKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			if n.Config.SkipNSUNTagK {
				continue
			}
			return nil, queryerr.NoSuchName("datasource.resolveFilters", f.TagKey)
		}
		tv, ok, err := n.Catalog.GetID(ctx, catalog.KindTagValue, f.TagValue)
		if err != nil {
			return nil, err
		}
		if !ok {
			if n.Config.SkipNSUNTagV {
				continue
			}
			return nil, queryerr.NoSuchName("datasource.resolveFilters", f.TagValue)
		}
		out = append(out, FilterUID{TagK: tk, TagV: tv})
	}
	return out, nil
}

// fetchSeries runs the execution-mode decision (meta-driven multi-get vs.
// scan vs. fallback) and, when rollups are configured, the finest-to-
// coarsest interval iteration of spec.md §4.4 step 4.
func (n *Node) fetchSeries(ctx context.Context, metricUID []byte, filters []FilterUID) ([]tsdata.Series, error) {
	if len(n.Config.RollupIntervals) == 0 {
		return n.fetchRaw(ctx, metricUID, filters)
	}

	for i, spec := range n.Config.RollupIntervals {
		builders, err := scanRollup(ctx, n.Store, n.RowKeyCfg, n.Config, spec, metricUID, filters, n.Policy)
		if err != nil {
			return nil, err
		}
		if len(builders) > 0 || spec.Usage == RollupNoFallback {
			return n.seriesFromRollupBuilders(ctx, builders), nil
		}
		if i == len(n.Config.RollupIntervals)-1 {
			// Coarsest configured rollup was empty too; fall back to raw.
			return n.fetchRaw(ctx, metricUID, filters)
		}
		// ROLLUP_RAW / ROLLUP_FALLBACK: try the next coarser interval.
	}
	return n.fetchRaw(ctx, metricUID, filters)
}

func (n *Node) fetchRaw(ctx context.Context, metricUID []byte, filters []FilterUID) ([]tsdata.Series, error) {
	if n.Meta != nil {
		meta, err := n.Meta.Resolve(ctx, metricUID, filters)
		if err != nil {
			return nil, err
		}
		if meta.Fallback == NoFallback {
			builders, err := scanMultiGet(ctx, n.Store, n.RowKeyCfg, n.Config, meta.TSUIDs, n.Policy)
			if err != nil {
				return nil, err
			}
			return n.seriesFromRawBuilders(ctx, builders), nil
		}
		// NoDataFallback / ExceptionFallback: degrade to scan below.
	}

	builders, err := scanRaw(ctx, n.Store, n.RowKeyCfg, n.Config, metricUID, filters, n.Policy)
	if err != nil {
		return nil, err
	}
	return n.seriesFromRawBuilders(ctx, builders), nil
}

func (n *Node) seriesFromRawBuilders(ctx context.Context, builders map[string]*rawBuilder) []tsdata.Series {
	out := make([]tsdata.Series, 0, len(builders))
	for _, b := range builders {
		tags := n.resolveTagNames(ctx, b.tags)
		out = append(out, seriesFromRaw(n.Config.Metric, b, n.Config.Start, n.Config.End, tags))
	}
	return out
}

func (n *Node) seriesFromRollupBuilders(ctx context.Context, builders map[string]*rollupBuilder) []tsdata.Series {
	out := make([]tsdata.Series, 0, len(builders))
	for _, b := range builders {
		tags := n.resolveTagNames(ctx, b.tags)
		out = append(out, seriesFromRollup(n.Config.Metric, b, n.Config.Start, n.Config.End, tags))
	}
	return out
}

// resolveTagNames is best-effort: a name that fails to resolve (store
// error or since-deleted UID) is simply omitted rather than failing the
// whole series, since tag names here are for display only -- joins and
// group-by key on the UID bytes in tsdata.ID.TSUID, not this map.
func (n *Node) resolveTagNames(ctx context.Context, pairs []rowkey.TagPair) map[string]string {
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, ok, err := n.Catalog.GetName(ctx, catalog.KindTagKey, p.TagK)
		if err != nil || !ok {
			continue
		}
		v, ok, err := n.Catalog.GetName(ctx, catalog.KindTagValue, p.TagV)
		if err != nil || !ok {
			continue
		}
		tags[k] = v
	}
	return tags
}

var _ pipeline.Node = (*Node)(nil)
