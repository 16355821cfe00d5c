// Package config is the engine's startup wiring: it loads and validates the
// process config (spec.md §9's ambient "configuration" concern), then
// builds the collaborators internal/datasource, internal/catalog and
// internal/segcache need before the first query runs. Grounded in the
// teacher's embedded-JSON-Schema config loader pattern (github.com/
// santhosh-tekuri/jsonschema/v5, strict json.Decoder), generalized from a
// single metric-store config file to this engine's broader dependency set.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tsqueng/coreengine/internal/catalog"
	"github.com/tsqueng/coreengine/internal/datasource"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/segcache"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/telemetry"
	"github.com/tsqueng/coreengine/pkg/log"
)

// schema bounds the shape of the JSON config file: required sections,
// correct types, no exotic extensions. It intentionally doesn't constrain
// every numeric range -- Load's own defaulting covers "unset", and bogus
// values (e.g. negative sizes) fail loudly the first time they're used
// rather than needing a second source of truth here.
const schema = `
{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "logLevel": {"type": "string"},
    "rowKey": {
      "type": "object",
      "properties": {
        "metricUidWidth": {"type": "integer"},
        "tagkUidWidth": {"type": "integer"},
        "tagvUidWidth": {"type": "integer"},
        "rowSpanSeconds": {"type": "integer"},
        "saltWidth": {"type": "integer"},
        "saltBuckets": {"type": "integer"}
      }
    },
    "catalog": {
      "type": "object",
      "properties": {
        "positiveSize": {"type": "integer"},
        "negativeSize": {"type": "integer"},
        "negativeTtlSeconds": {"type": "integer"},
        "sweepIntervalSeconds": {"type": "integer"}
      }
    },
    "store": {
      "type": "object",
      "properties": {
        "readQps": {"type": "number"},
        "readBurst": {"type": "integer"}
      }
    },
    "nats": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "address": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "credsFilePath": {"type": "string"},
        "resolveTimeoutSeconds": {"type": "integer"}
      }
    },
    "segCache": {
      "type": "object",
      "properties": {
        "maxMemoryBytes": {"type": "integer"},
        "sweepIntervalSeconds": {"type": "integer"},
        "hitRatioThreshold": {"type": "number"}
      }
    },
    "dataSource": {
      "type": "object",
      "properties": {
        "rawTable": {"type": "string"},
        "rawFamily": {"type": "string"},
        "multiGetBatch": {"type": "integer"},
        "multiGetConcurrent": {"type": "integer"},
        "softByteLimit": {"type": "integer"},
        "softRowLimit": {"type": "integer"}
      }
    }
  },
  "additionalProperties": false
}`

// RowKeyConfig mirrors rowkey.Config in wire form; kept separate so the
// JSON field names stay stable even if the internal type's Go field names
// change.
type RowKeyConfig struct {
	MetricUIDWidth int `json:"metricUidWidth"`
	TagKUIDWidth   int `json:"tagkUidWidth"`
	TagVUIDWidth   int `json:"tagvUidWidth"`
	RowSpanSeconds int64 `json:"rowSpanSeconds"`
	SaltWidth      int `json:"saltWidth"`
	SaltBuckets    int `json:"saltBuckets"`
}

type CatalogConfig struct {
	PositiveSize         int `json:"positiveSize"`
	NegativeSize         int `json:"negativeSize"`
	NegativeTTLSeconds   int `json:"negativeTtlSeconds"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
}

type StoreConfig struct {
	ReadQPS   float64 `json:"readQps"`
	ReadBurst int     `json:"readBurst"`
}

// NatsConfig configures the optional async catalog resolver
// (internal/catalog.NatsResolver). Enabled defaults to false: the direct
// store path works with no NATS deployment present (SPEC_FULL.md §4.3).
type NatsConfig struct {
	Enabled               bool   `json:"enabled"`
	Address               string `json:"address"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	CredsFilePath         string `json:"credsFilePath"`
	ResolveTimeoutSeconds int    `json:"resolveTimeoutSeconds"`
}

type SegCacheConfig struct {
	MaxMemoryBytes       int     `json:"maxMemoryBytes"`
	SweepIntervalSeconds int     `json:"sweepIntervalSeconds"`
	HitRatioThreshold    float64 `json:"hitRatioThreshold"`
}

type DataSourceConfig struct {
	RawTable           string `json:"rawTable"`
	RawFamily          string `json:"rawFamily"`
	MultiGetBatch      int    `json:"multiGetBatch"`
	MultiGetConcurrent int    `json:"multiGetConcurrent"`
	SoftByteLimit      int    `json:"softByteLimit"`
	SoftRowLimit       int    `json:"softRowLimit"`
}

// Config is the engine's process-wide, validated configuration.
type Config struct {
	LogLevel   string           `json:"logLevel"`
	RowKey     RowKeyConfig     `json:"rowKey"`
	Catalog    CatalogConfig    `json:"catalog"`
	Store      StoreConfig      `json:"store"`
	Nats       NatsConfig       `json:"nats"`
	SegCache   SegCacheConfig   `json:"segCache"`
	DataSource DataSourceConfig `json:"dataSource"`
}

// Default returns a Config with spec.md's stated defaults (3-byte UIDs, 1h
// rows, no salting, generous cache sizes), suitable for a local or test
// deployment with no config file present.
func Default() Config {
	d := rowkey.DefaultConfig()
	cc := catalog.DefaultCacheConfig()
	return Config{
		LogLevel: "info",
		RowKey: RowKeyConfig{
			MetricUIDWidth: d.MetricUIDWidth,
			TagKUIDWidth:   d.TagKUIDWidth,
			TagVUIDWidth:   d.TagVUIDWidth,
			RowSpanSeconds: d.RowSpanSeconds,
			SaltWidth:      d.SaltWidth,
			SaltBuckets:    d.SaltBuckets,
		},
		Catalog: CatalogConfig{
			PositiveSize:         cc.PositiveSize,
			NegativeSize:         cc.NegativeSize,
			NegativeTTLSeconds:   int(cc.NegativeTTL / time.Second),
			SweepIntervalSeconds: 60,
		},
		Store: StoreConfig{ReadQPS: 0, ReadBurst: 0}, // 0 == unthrottled
		Nats:  NatsConfig{Enabled: false, ResolveTimeoutSeconds: 2},
		SegCache: SegCacheConfig{
			MaxMemoryBytes:       256 << 20,
			SweepIntervalSeconds: 300,
			HitRatioThreshold:    segcache.DefaultHitRatioThreshold,
		},
		DataSource: DataSourceConfig{
			RawTable: "tsdb", RawFamily: "t",
			MultiGetBatch: 256, MultiGetConcurrent: 8,
			SoftByteLimit: 1 << 20, SoftRowLimit: 10000,
		},
	}
}

// Load reads and validates the JSON config at path, merging it onto
// Default(). A sibling ".env" file (path with a trailing ".json" replaced
// by ".env"; any other path gets ".env" appended) is
// loaded first via godotenv if present; missing .env is not an error, a
// malformed one is.
func Load(path string) (Config, error) {
	envPath := strings.TrimSuffix(path, ".json") + ".env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("config: loading %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	compiled, err := jsonschema.CompileString("config.schema.json", schema)
	if err != nil {
		return Config{}, fmt.Errorf("config: compiling schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Runtime bundles the collaborators built from a Config, plus the
// background schedulers Close stops.
type Runtime struct {
	Catalog      *catalog.Cache
	Store        storeapi.Store
	SegCache     *segcache.Coordinator
	NatsResolver *catalog.NatsResolver
	Metrics      *telemetry.Metrics

	catalogSweeper  gocron.Scheduler
	segCacheSweeper gocron.Scheduler
	natsConn        *nats.Conn
}

// Apply builds every engine collaborator from cfg, wires
// internal/datasource.Deps (the process-wide dependency set every
// data-source node Factory reads), and starts the catalog/segment-cache
// sweepers. store is the caller-provided backing Store (e.g. a real
// wide-column client, or storeapi.NewMemStore() for a standalone/test
// deployment); Apply wraps it with a read-rate limiter per cfg.Store.
func Apply(cfg Config, store storeapi.Store, reg prometheus.Registerer) (*Runtime, error) {
	log.SetLogLevel(cfg.LogLevel)

	limited := storeapi.NewRateLimited(store, cfg.Store.ReadQPS, cfg.Store.ReadBurst)

	cat, err := catalog.NewCache(catalog.RowStoreAdapter{Store: limited}, catalog.CacheConfig{
		PositiveSize: cfg.Catalog.PositiveSize,
		NegativeSize: cfg.Catalog.NegativeSize,
		NegativeTTL:  time.Duration(cfg.Catalog.NegativeTTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("config: building catalog cache: %w", err)
	}
	catalogSweeper, err := catalog.StartSweeper(cat, time.Duration(cfg.Catalog.SweepIntervalSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: starting catalog sweeper: %w", err)
	}

	rkCfg := rowkey.Config{
		MetricUIDWidth: cfg.RowKey.MetricUIDWidth,
		TagKUIDWidth:   cfg.RowKey.TagKUIDWidth,
		TagVUIDWidth:   cfg.RowKey.TagVUIDWidth,
		RowSpanSeconds: cfg.RowKey.RowSpanSeconds,
		SaltWidth:      cfg.RowKey.SaltWidth,
		SaltBuckets:    cfg.RowKey.SaltBuckets,
		SaltMode:       rowkey.SaltTimeless,
	}

	metrics := telemetry.NewMetrics(reg)

	datasource.Deps.Catalog = cat
	datasource.Deps.Store = limited
	datasource.Deps.RowKeyCfg = rkCfg
	datasource.Deps.Meta = nil
	datasource.Deps.Metrics = datasource.Metrics{
		Rows:      metrics.ScanRows.Inc,
		Bytes:     func(n int) { metrics.ScanBytes.Add(float64(n)) },
		LatencyMs: metrics.ScanLatencyMs.Observe,
	}

	lru := segcache.NewLRUPlugin(cfg.SegCache.MaxMemoryBytes)
	segCacheSweeper, err := lru.StartSweeper(time.Duration(cfg.SegCache.SweepIntervalSeconds) * time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: starting segment cache sweeper: %w", err)
	}
	coordinator := segcache.NewCoordinator(lru)
	if cfg.SegCache.HitRatioThreshold > 0 {
		coordinator.HitThreshold = cfg.SegCache.HitRatioThreshold
	}
	coordinator.Metrics = segcache.Metrics{
		Hit: metrics.CacheSegmentHit.Inc, Miss: metrics.CacheSegmentMiss.Inc,
		Delete: metrics.CacheSegmentDelete.Inc, Uncacheable: metrics.CacheSegmentUncacheable.Inc,
		Cached: metrics.CacheSegmentCached.Inc, Skip: metrics.CacheSkip.Inc, FullQuery: metrics.CacheFullQuery.Inc,
	}

	rt := &Runtime{
		Catalog: cat, Store: limited, SegCache: coordinator, Metrics: metrics,
		catalogSweeper: catalogSweeper, segCacheSweeper: segCacheSweeper,
	}

	if cfg.Nats.Enabled {
		nc, err := connectNats(cfg.Nats)
		if err != nil {
			log.Warnf("config: nats resolver disabled, connect failed: %v", err)
		} else {
			rt.natsConn = nc
			rt.NatsResolver = catalog.NewNatsResolver(nc, cat, time.Duration(cfg.Nats.ResolveTimeoutSeconds)*time.Second)
		}
	}

	return rt, nil
}

func connectNats(cfg NatsConfig) (*nats.Conn, error) {
	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	return nats.Connect(cfg.Address, opts...)
}

// Close stops background schedulers and the NATS connection, if any. Safe
// to call on a zero-value skipped resolver.
func (r *Runtime) Close() {
	if r.catalogSweeper != nil {
		_ = r.catalogSweeper.Shutdown()
	}
	if r.segCacheSweeper != nil {
		_ = r.segCacheSweeper.Shutdown()
	}
	if r.natsConn != nil {
		r.natsConn.Close()
	}
}
