package datasource

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// scanBounds returns [startKey, stopKey) for one salt bucket covering
// [start, end). Unlike rowkey.EncodeRowKey (which derives the salt prefix
// from a hash of the key contents), a scan bound fixes the salt prefix to
// the literal bucket index being iterated, since that's exactly the set of
// prefix values PrefixSalt ever produces for cfg.SaltBuckets buckets.
func scanBounds(cfg rowkey.Config, bucket int, metricUID []byte, start, end int64) (lo, hi []byte) {
	build := func(base int64) []byte {
		key := make([]byte, cfg.SaltWidth+cfg.MetricUIDWidth+4)
		off := 0
		if cfg.SaltWidth > 0 {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(bucket))
			copy(key[:cfg.SaltWidth], buf[8-cfg.SaltWidth:])
			off = cfg.SaltWidth
		}
		off += copy(key[off:], metricUID)
		binary.BigEndian.PutUint32(key[off:off+4], uint32(cfg.AlignBaseTime(base)))
		return key
	}
	lo = build(start)
	// Stop one row-span past the row holding end, so that row is scanned;
	// when end falls exactly on a row boundary, the row whose base_time ==
	// end is scanned as well.
	hi = build(cfg.AlignBaseTime(end) + cfg.RowSpanSeconds)
	return lo, hi
}

// saltBuckets returns the range of salt bucket indices to iterate: just
// {0} when the schema is unsalted.
func saltBuckets(cfg rowkey.Config) []int {
	if cfg.SaltWidth == 0 {
		return []int{0}
	}
	n := cfg.SaltBuckets
	if n <= 0 {
		n = 1
	}
	buckets := make([]int, n)
	for i := range buckets {
		buckets[i] = i
	}
	return buckets
}

// parseTagPairs splits a decoded TSUID's tag-byte tail into ordered
// (tagk, tagv) UID pairs, mirroring rowkey.NextRowKeyForScan's layout
// assumption (tag pairs are fixed-width and already sorted by tagk).
func parseTagPairs(cfg rowkey.Config, tsuid []byte) []rowkey.TagPair {
	tagBytes := tsuid[cfg.MetricUIDWidth:]
	pairWidth := cfg.TagKUIDWidth + cfg.TagVUIDWidth
	if pairWidth <= 0 {
		return nil
	}
	var pairs []rowkey.TagPair
	for i := 0; i+pairWidth <= len(tagBytes); i += pairWidth {
		pairs = append(pairs, rowkey.TagPair{
			TagK: tagBytes[i : i+cfg.TagKUIDWidth],
			TagV: tagBytes[i+cfg.TagKUIDWidth : i+pairWidth],
		})
	}
	return pairs
}

// matchesFilters reports whether every filter UID pair is present among
// the series' tag pairs (subset match: extra, unfiltered tags are fine).
func matchesFilters(pairs []rowkey.TagPair, filters []FilterUID) bool {
	for _, f := range filters {
		found := false
		for _, p := range pairs {
			if bytes.Equal(p.TagK, f.TagK) && bytes.Equal(p.TagV, f.TagV) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// rawBuilder accumulates raw per-cell samples for one TSUID across however
// many rows (one per base_time) the scan visits; the row-key layout orders
// by base_time ahead of tags, so rows for a single TSUID are spread across
// the whole scanned range rather than arriving contiguously -- the node
// buffers per TSUID and flushes once the scan completes, the same
// accommodation OpenTSDB's own client-side row merge makes for this key
// layout.
type rawBuilder struct {
	tsuid []byte
	tags  []rowkey.TagPair
	cells []codec.Cell
}

// scanRaw walks every salt bucket's range over the raw table, decoding
// cells and grouping them by TSUID.
func scanRaw(ctx context.Context, store storeapi.Store, cfg rowkey.Config, rawCfg Config, metricUID []byte, filters []FilterUID, policy codec.Policy) (map[string]*rawBuilder, error) {
	out := make(map[string]*rawBuilder)
	for _, bucket := range saltBuckets(cfg) {
		lo, hi := scanBounds(cfg, bucket, metricUID, rawCfg.Start, rawCfg.End)
		err := store.Scan(ctx, rawCfg.RawTable, lo, hi, rawCfg.RawFamily, func(row storeapi.Row) error {
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
			cells, err := codec.DecodeRow(baseTime, row.Qualifiers, row.Values, policy)
			if err != nil {
				return err
			}
			b, ok := out[string(tsuid)]
			if !ok {
				b = &rawBuilder{tsuid: append([]byte{}, tsuid...), tags: pairs}
				out[string(tsuid)] = b
			}
			b.cells = append(b.cells, cells...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, b := range out {
		sort.Slice(b.cells, func(i, j int) bool { return b.cells[i].Timestamp < b.cells[j].Timestamp })
	}
	return out, nil
}

// seriesFromRaw converts one TSUID's decoded cells to a scalar series,
// restricting to [start, end).
func seriesFromRaw(label string, b *rawBuilder, start, end int64, tags map[string]string) tsdata.Series {
	points := make([]tsdata.Point, 0, len(b.cells))
	for _, c := range b.cells {
		if c.Timestamp < start || c.Timestamp >= end {
			continue
		}
		points = append(points, tsdata.Point{Timestamp: c.Timestamp, Value: tsdata.Float(c.Value.Float64())})
	}
	return tsdata.Series{ID: tsdata.ID{TSUID: b.tsuid, Label: label}, Kind: tsdata.ValueScalar, Points: points, Tags: tags}
}
