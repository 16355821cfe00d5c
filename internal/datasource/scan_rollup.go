package datasource

import (
	"context"
	"sort"

	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// rollupBuilder accumulates decoded rollup cells for one TSUID, keyed by
// aggregator id, across however many rows the scan visits.
type rollupBuilder struct {
	tsuid       []byte
	tags        []rowkey.TagPair
	byAggregate map[byte][]codec.RollupCell
}

// scanRollup walks a rollup table's range, decoding either per-cell rollup
// qualifiers or rollup append-blobs depending on spec.BlobFormat, and
// groups the result by TSUID (spec.md §4.4 step 4).
func scanRollup(ctx context.Context, store storeapi.Store, cfg rowkey.Config, rawCfg Config, spec RollupSpec, metricUID []byte, filters []FilterUID, policy codec.Policy) (map[string]*rollupBuilder, error) {
	out := make(map[string]*rollupBuilder)
	for _, bucket := range saltBuckets(cfg) {
		lo, hi := scanBounds(cfg, bucket, metricUID, rawCfg.Start, rawCfg.End)
		err := store.Scan(ctx, spec.Table, lo, hi, spec.Family, func(row storeapi.Row) error {
			tsuid, err := rowkey.DecodeTSUID(cfg, row.Key)
			if err != nil {
				return err
			}
			pairs := parseTagPairs(cfg, tsuid)
			if !matchesFilters(pairs, filters) {
				return nil
			}
			baseU32, err := rowkey.BaseTime(cfg, row.Key)
			if err != nil {
				return err
			}
			baseTime := int64(baseU32)

			b, ok := out[string(tsuid)]
			if !ok {
				b = &rollupBuilder{tsuid: append([]byte{}, tsuid...), tags: pairs, byAggregate: map[byte][]codec.RollupCell{}}
				out[string(tsuid)] = b
			}

			kind := codec.RollupKindOf(spec.BlobFormat)
			for i, q := range row.Qualifiers {
				aggID, cells, err := codec.DecodeRollupQualifier(kind, baseTime, q, row.Values[i], spec.Style, spec.Aggregators, spec.BlobFormat)
				if err != nil {
					if policy == codec.PolicySkipBadCells {
						continue
					}
					return err
				}
				b.byAggregate[aggID] = append(b.byAggregate[aggID], cells...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, b := range out {
		for agg := range b.byAggregate {
			cells := b.byAggregate[agg]
			sort.Slice(cells, func(i, j int) bool { return cells[i].Timestamp < cells[j].Timestamp })
			b.byAggregate[agg] = cells
		}
	}
	return out, nil
}

// seriesFromRollup builds a numeric-summary series from one TSUID's
// per-aggregator rollup cells, restricted to [start, end).
func seriesFromRollup(label string, b *rollupBuilder, start, end int64, tags map[string]string) tsdata.Series {
	aligned := codec.AlignRollups(b.byAggregate)
	points := make([]tsdata.SummaryPoint, 0, len(aligned))
	for _, p := range aligned {
		if p.Timestamp < start || p.Timestamp >= end {
			continue
		}
		points = append(points, p)
	}
	return tsdata.Series{ID: tsdata.ID{TSUID: b.tsuid, Label: label}, Kind: tsdata.ValueSummary, Summary: points, Tags: tags}
}
