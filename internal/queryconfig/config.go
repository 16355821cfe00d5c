// Package queryconfig parses the query wire format (spec.md §6): plain
// encoding/json, matching how the teacher parses its own JSON
// configuration (json struct tags, no schema-free document library).
package queryconfig

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/timeutil"
)

// NodeConfig is one executionGraph entry on the wire.
type NodeConfig struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	SourceID string                 `json:"sourceId,omitempty"`
	Sources  []string               `json:"sources,omitempty"`
	PushDown bool                   `json:"pushDown,omitempty"`
	Options  map[string]interface{} `json:"-"`
}

// rawNodeConfig captures every option key alongside the named fields so
// Options can hold the type-specific remainder without a second decode
// pass per node type.
type rawNodeConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	SourceID string   `json:"sourceId,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	PushDown bool     `json:"pushDown,omitempty"`
}

// FilterEntry names a reusable filter referenced by id from node options.
type FilterEntry struct {
	ID     string      `json:"id"`
	Filter interface{} `json:"filter"`
}

// Request is the top-level query wire format.
type Request struct {
	Start          string                 `json:"start"`
	End            string                 `json:"end"`
	Timezone       string                 `json:"timezone,omitempty"`
	Mode           string                 `json:"mode"`
	ExecutionGraph []json.RawMessage      `json:"executionGraph"`
	Filters        []FilterEntry          `json:"filters,omitempty"`
	CacheMode      string                 `json:"cacheMode,omitempty"`
	SerdesConfigs  map[string]interface{} `json:"serdesConfigs,omitempty"`
	LogLevel       string                 `json:"logLevel,omitempty"`
}

// Parsed is a Request with its time fields resolved to absolute Unix
// seconds and its executionGraph decoded into pipeline.NodeConfig values.
type Parsed struct {
	Start, End int64
	Mode       string
	CacheMode  string
	LogLevel   string
	Nodes      []pipeline.NodeConfig
}

// Parse decodes and resolves raw query JSON. now is the reference instant
// relative time expressions ("1h", "15m", ...) resolve against.
func Parse(data []byte, now time.Time) (Parsed, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Parsed{}, fmt.Errorf("queryconfig: %w", err)
	}

	start, err := timeutil.ParseTimeSpec(req.Start, now)
	if err != nil {
		return Parsed{}, fmt.Errorf("queryconfig: start: %w", err)
	}
	end, err := timeutil.ParseTimeSpec(req.End, now)
	if err != nil {
		return Parsed{}, fmt.Errorf("queryconfig: end: %w", err)
	}
	if end <= start {
		return Parsed{}, fmt.Errorf("queryconfig: end %d must be after start %d", end, start)
	}

	nodes := make([]pipeline.NodeConfig, 0, len(req.ExecutionGraph))
	for i, raw := range req.ExecutionGraph {
		var rc rawNodeConfig
		if err := json.Unmarshal(raw, &rc); err != nil {
			return Parsed{}, fmt.Errorf("queryconfig: executionGraph[%d]: %w", i, err)
		}
		var opts map[string]interface{}
		if err := json.Unmarshal(raw, &opts); err != nil {
			return Parsed{}, fmt.Errorf("queryconfig: executionGraph[%d] options: %w", i, err)
		}
		nodeType := rc.Type
		sources := rc.Sources
		if rc.SourceID != "" {
			nodeType = "datasource"
			sources = nil
		}
		if nodeType == "" {
			return Parsed{}, fmt.Errorf("queryconfig: executionGraph[%d] missing type/sourceId", i)
		}
		nodes = append(nodes, pipeline.NodeConfig{
			ID: rc.ID, Type: nodeType, Sources: sources, PushDown: rc.PushDown, Options: opts,
		})
	}

	return Parsed{Start: start, End: end, Mode: req.Mode, CacheMode: req.CacheMode, LogLevel: req.LogLevel, Nodes: nodes}, nil
}
