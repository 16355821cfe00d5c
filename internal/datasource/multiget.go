package datasource

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
)

// scanMultiGet fetches a concrete TSUID set row-by-row-span, in batches of
// at most limits.MultiGetBatch keys with at most limits.MultiGetConcurrent
// batches inflight (spec.md §4.4 step 3 "meta-driven multi-get").
func scanMultiGet(ctx context.Context, store storeapi.Store, cfg rowkey.Config, rawCfg Config, tsuids [][]byte, policy codec.Policy) (map[string]*rawBuilder, error) {
	spans := spanStarts(cfg, rawCfg.Start, rawCfg.End)

	out := make(map[string]*rawBuilder, len(tsuids))
	var mu sync.Mutex
	for _, t := range tsuids {
		out[string(t)] = &rawBuilder{tsuid: append([]byte{}, t...), tags: parseTagPairs(cfg, t)}
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := rawCfg.Limits.MultiGetConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	batch := rawCfg.Limits.MultiGetBatch
	if batch <= 0 {
		batch = len(tsuids)
		if batch == 0 {
			batch = 1
		}
	}

	for start := 0; start < len(tsuids); start += batch {
		end := start + batch
		if end > len(tsuids) {
			end = len(tsuids)
		}
		tsuidBatch := tsuids[start:end]
		g.Go(func() error {
			for _, base := range spans {
				keys := make([][]byte, len(tsuidBatch))
				for i, t := range tsuidBatch {
					metricUID := t[:cfg.MetricUIDWidth]
					key, err := rowkey.EncodeRowKey(cfg, metricUID, base, parseTagPairs(cfg, t))
					if err != nil {
						return err
					}
					keys[i] = key
				}
				rows, found, err := store.MultiGet(gctx, rawCfg.RawTable, keys, rawCfg.RawFamily)
				if err != nil {
					return err
				}
				for i, ok := range found {
					if !ok {
						continue
					}
					cells, err := codec.DecodeRow(cfg.AlignBaseTime(base), rows[i].Qualifiers, rows[i].Values, policy)
					if err != nil {
						return err
					}
					mu.Lock()
					out[string(tsuidBatch[i])].cells = append(out[string(tsuidBatch[i])].cells, cells...)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// spanStarts enumerates each row-span-aligned base_time between start and
// end, the query range a multi-get must cover one row per TSUID for.
func spanStarts(cfg rowkey.Config, start, end int64) []int64 {
	span := cfg.RowSpanSeconds
	if span <= 0 {
		span = 3600
	}
	var out []int64
	for t := cfg.AlignBaseTime(start); t < end; t += span {
		out = append(out, t)
	}
	return out
}
