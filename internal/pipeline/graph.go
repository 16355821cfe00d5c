package pipeline

import (
	"sort"

	"github.com/tsqueng/coreengine/internal/queryerr"
)

// Graph is a built, validated DAG of node configs: ids resolved, no cycles,
// push-down absorptions applied. It does not yet hold instantiated Nodes;
// NewContext does that.
type Graph struct {
	Order   []string // topological order, leaves first
	Configs map[string]NodeConfig

	// Sources maps a node id to the ids it reads from.
	Sources map[string][]string
	// Downstream maps a node id to the ids that read from it.
	Downstream map[string][]string

	// DataSourceLeaves maps each node id to the set of data-source node ids
	// reachable upstream of it; the root's entry is the
	// serialization_sources set named in spec.md §4.5 step 3.
	DataSourceLeaves map[string]map[string]bool

	// Absorbed maps a node id to the datasource node id that push-down
	// folded it into; absorbed nodes are not separately instantiated.
	Absorbed map[string]string
}

// DataSourceNodeType is the NodeConfig.Type tag identifying a data-source
// leaf; exported so internal/engine can enumerate leaves without importing
// internal/datasource just for the string literal.
const DataSourceNodeType = "datasource"

const dataSourceNodeType = DataSourceNodeType

// PushDownKey is the Options key an absorbed node's own NodeConfig is
// stashed under on its absorbing datasource config, so the datasource
// factory can fuse the downstream op into its scan (spec.md §4.5 step 2).
const PushDownKey = "__pushdown"

// Plan builds a Graph from configs, validates source references, detects
// cycles, applies push-down absorption, and computes serialization sources
// for each declared root sink id (spec.md §4.5 planner steps 1-4).
func Plan(configs []NodeConfig, rootSinkIDs []string) (*Graph, error) {
	byID := make(map[string]NodeConfig, len(configs))
	for _, c := range configs {
		byID[c.ID] = c
	}
	for _, c := range configs {
		for _, s := range c.Sources {
			if _, ok := byID[s]; !ok {
				return nil, queryerr.Newf(queryerr.KindValidation, "pipeline.Plan", "node %q references unknown source %q", c.ID, s)
			}
		}
	}
	for _, id := range rootSinkIDs {
		if _, ok := byID[id]; !ok {
			return nil, queryerr.Newf(queryerr.KindValidation, "pipeline.Plan", "unknown serialization sink %q", id)
		}
	}

	order, err := topoSort(byID)
	if err != nil {
		return nil, err
	}

	downstream := make(map[string][]string)
	sources := make(map[string][]string)
	for _, c := range configs {
		sources[c.ID] = append([]string{}, c.Sources...)
		for _, s := range c.Sources {
			downstream[s] = append(downstream[s], c.ID)
		}
	}

	absorbed := applyPushDown(byID, sources, downstream)

	leaves := make(map[string]map[string]bool, len(order))
	for _, id := range order {
		set := map[string]bool{}
		if byID[id].Type == dataSourceNodeType {
			set[id] = true
		}
		for _, s := range sources[id] {
			for k := range leaves[s] {
				set[k] = true
			}
		}
		leaves[id] = set
	}

	g := &Graph{
		Order:            order,
		Configs:          byID,
		Sources:          sources,
		Downstream:       downstream,
		DataSourceLeaves: leaves,
		Absorbed:         absorbed,
	}
	return g, nil
}

// SerializationSources returns the sorted ids of the data-source nodes the
// given root sink expects results from, per spec.md §4.5 step 3.
func (g *Graph) SerializationSources(rootID string) []string {
	set := g.DataSourceLeaves[rootID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// applyPushDown folds a downstream rate/downsample node into its upstream
// datasource node when both configs opt in via PushDown, matching spec.md
// §4.5 step 2 ("data-source absorbs a downstream rate/downsample if both
// opt in"). Returns a map of absorbed node id -> absorbing datasource id.
func applyPushDown(byID map[string]NodeConfig, sources, downstream map[string][]string) map[string]string {
	absorbed := map[string]string{}
	for id, cfg := range byID {
		if !cfg.PushDown || (cfg.Type != "rate" && cfg.Type != "downsample") {
			continue
		}
		if len(sources[id]) != 1 {
			continue
		}
		up := sources[id][0]
		upCfg := byID[up]
		if upCfg.Type != dataSourceNodeType || !upCfg.PushDown {
			continue
		}
		if len(downstream[up]) != 1 {
			// datasource feeds more than this one node; can't absorb
			// without changing semantics for its other consumers.
			continue
		}
		if upCfg.Options == nil {
			upCfg.Options = map[string]interface{}{}
		}
		upCfg.Options[PushDownKey] = cfg
		byID[up] = upCfg
		absorbed[id] = up
	}
	return absorbed
}

// topoSort returns nodes leaves-first (sources before their consumers),
// failing with a Fatal-kind error if the graph contains a cycle (invariant
// 5 of spec.md §3, testable property 10 of spec.md §8).
func topoSort(byID map[string]NodeConfig) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	order := make([]string, 0, len(byID))

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return queryerr.Newf(queryerr.KindFatal, "pipeline.Plan", "cycle detected at node %q", id)
		case black:
			return nil
		}
		color[id] = gray
		srcs := append([]string{}, byID[id].Sources...)
		sort.Strings(srcs)
		for _, s := range srcs {
			if err := visit(s); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
