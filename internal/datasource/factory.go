package datasource

import (
	"fmt"

	"github.com/tsqueng/coreengine/internal/catalog"
	"github.com/tsqueng/coreengine/internal/nodes/downsample"
	"github.com/tsqueng/coreengine/internal/nodes/rate"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
)

// Deps holds the process-wide collaborators a data-source node needs but
// that a single query's NodeConfig.Options can't carry: the catalog cache,
// the row store, the row-key layout and the optional meta plugin. The
// engine's startup wiring (internal/config) sets this once before any
// query runs; per spec.md §4.4 the node itself is stateless across
// queries.
var Deps struct {
	Catalog   *catalog.Cache
	Store     storeapi.Store
	RowKeyCfg rowkey.Config
	Meta      MetaPlugin
	Metrics   Metrics
}

func init() {
	pipeline.Register("datasource", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := configFromOptions(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("datasource: %s: %w", cfg.ID, err)
		}
		n := NewNode(cfg.ID, Deps.Catalog, Deps.Store, Deps.RowKeyCfg, Deps.Meta, c)
		n.Metrics = Deps.Metrics
		return n, nil
	})
}

func configFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{Limits: DefaultLimits(), RawTable: "tsdb", RawFamily: "t"}
	if opts == nil {
		return Config{}, fmt.Errorf("missing options")
	}
	metric, _ := opts["metric"].(string)
	if metric == "" {
		return Config{}, fmt.Errorf("missing required \"metric\" option")
	}
	c.Metric = metric

	if v, ok := opts["start"].(float64); ok {
		c.Start = int64(v)
	}
	if v, ok := opts["end"].(float64); ok {
		c.End = int64(v)
	}
	if v, ok := opts["downsample_hint_seconds"].(float64); ok {
		c.DownsampleHintSeconds = int64(v)
	}
	if v, ok := opts["skip_nsun_metric"].(bool); ok {
		c.SkipNSUNMetric = v
	}
	if v, ok := opts["skip_nsun_tagk"].(bool); ok {
		c.SkipNSUNTagK = v
	}
	if v, ok := opts["skip_nsun_tagv"].(bool); ok {
		c.SkipNSUNTagV = v
	}
	if v, ok := opts["continue_on_row_error"].(bool); ok {
		c.ContinueOnRowError = v
	}
	if v, ok := opts["raw_table"].(string); ok && v != "" {
		c.RawTable = v
	}
	if v, ok := opts["raw_family"].(string); ok && v != "" {
		c.RawFamily = v
	}
	if rawFilters, ok := opts["filters"].([]interface{}); ok {
		for _, rf := range rawFilters {
			m, ok := rf.(map[string]interface{})
			if !ok {
				continue
			}
			tagk, _ := m["tagk"].(string)
			tagv, _ := m["tagv"].(string)
			if tagk == "" || tagv == "" {
				continue
			}
			c.Filters = append(c.Filters, Filter{TagKey: tagk, TagValue: tagv})
		}
	}
	if pd, ok := opts[pipeline.PushDownKey].(pipeline.NodeConfig); ok {
		t, err := postTransformFromNodeConfig(pd)
		if err != nil {
			return Config{}, err
		}
		c.PostTransform = t
	}
	if rawLimits, ok := opts["limits"].(map[string]interface{}); ok {
		if v, ok := rawLimits["multi_get_batch"].(float64); ok {
			c.Limits.MultiGetBatch = int(v)
		}
		if v, ok := rawLimits["multi_get_concurrent"].(float64); ok {
			c.Limits.MultiGetConcurrent = int(v)
		}
		if v, ok := rawLimits["soft_byte_limit"].(float64); ok {
			c.Limits.SoftByteLimit = int(v)
		}
		if v, ok := rawLimits["soft_row_limit"].(float64); ok {
			c.Limits.SoftRowLimit = int(v)
		}
	}
	return c, nil
}

// postTransformFromNodeConfig builds a PostTransform from an absorbed
// Rate/Downsample node's own planned config (spec.md §4.5 step 2).
func postTransformFromNodeConfig(cfg pipeline.NodeConfig) (*PostTransform, error) {
	switch cfg.Type {
	case "rate":
		return &PostTransform{Kind: PostTransformRate, Rate: rate.ConfigFromOptions(cfg.Options)}, nil
	case "downsample":
		dc, err := downsample.ConfigFromOptions(cfg.Options)
		if err != nil {
			return nil, fmt.Errorf("datasource: pushdown downsample: %w", err)
		}
		return &PostTransform{Kind: PostTransformDownsample, Downsample: dc}, nil
	default:
		return nil, fmt.Errorf("datasource: pushdown: unsupported absorbed node type %q", cfg.Type)
	}
}
