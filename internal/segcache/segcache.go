// Package segcache implements the segment-partitioned read-through cache
// coordinator (spec.md §4.7): fixed segment boundaries, tip-query refresh,
// partial-hit fallback threshold, and asynchronous write-back. Segment
// entries are held in the teacher's compute-on-miss LRU (pkg/lrucache),
// repurposed here to hold cached query-result bytes keyed by segment
// instead of the teacher's metric-buffer pages.
package segcache

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tsqueng/coreengine/internal/cacheapi"
	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/pkg/log"
)

// Mode selects the coordinator's read/write behavior for one query
// (spec.md §4.7 "Modes").
type Mode int

const (
	ModeNormal Mode = iota
	ModeReadOnly
	ModeWriteOnly
	ModeBypass
	ModeClear
)

// DefaultHitRatioThreshold is the fraction of segment hits above which the
// coordinator issues per-segment sub-queries for the remaining misses
// instead of falling back to one full-range query (spec.md §4.7 step 2).
const DefaultHitRatioThreshold = 0.60

// Segment is one fixed-boundary slice of the query's time range.
type Segment struct {
	Start, End int64
}

// SegmentSeconds picks the segment width from the effective downsample
// interval, and reports whether the query bypasses the cache entirely
// (spec.md §4.7 "Boundaries and keys"). Open Question (a) in spec.md §9
// is resolved here: run_all is treated the same as "DS >= 86400s" and
// always bypasses, regardless of trailing-segment freshness.
func SegmentSeconds(dsIntervalSeconds int64, runAll bool) (segSeconds int64, bypass bool) {
	if runAll || dsIntervalSeconds >= 86400 {
		return 0, true
	}
	if dsIntervalSeconds >= 3600 {
		return 86400, false
	}
	return 3600, false
}

// SnapRange aligns [t0, t1) to segment boundaries, producing N contiguous
// segments covering at least the original range.
func SnapRange(t0, t1, segSeconds int64) []Segment {
	if segSeconds <= 0 {
		return nil
	}
	start := t0 - mod(t0, segSeconds)
	end := t1
	if r := mod(end, segSeconds); r != 0 {
		end += segSeconds - r
	}
	segs := make([]Segment, 0, int((end-start)/segSeconds))
	for s := start; s < end; s += segSeconds {
		segs = append(segs, Segment{Start: s, End: s + segSeconds})
	}
	return segs
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Key computes the per-segment cache key from the query's content hash,
// the effective downsample interval, and the segment start, via the same
// stable xxhash used for row-key salting (spec.md §4.7 "A cache key per
// segment is hash(original_query_hash, ds_interval_seconds, segment_start)").
func Key(queryHash uint64, dsIntervalSeconds, segmentStart int64) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], queryHash)
	binary.BigEndian.PutUint64(buf[8:16], uint64(dsIntervalSeconds))
	binary.BigEndian.PutUint64(buf[16:24], uint64(segmentStart))
	h := xxhash.Sum64(buf[:])
	return formatKey(h)
}

func formatKey(h uint64) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hex[h&0xf]
		h >>= 4
	}
	return string(b)
}

// TTLSchedule returns the expiry duration for the i-th segment (0 =
// earliest), per spec.md §4.7: "equals min_downsample_interval * 1000 ms
// for the first segment and grows per a configured schedule" — here a
// simple doubling ladder capped at 1 hour, which keeps older segments
// cacheable longer since they're less likely to receive late-arriving data.
func TTLSchedule(minDownsampleIntervalSeconds int64, index int) time.Duration {
	base := time.Duration(minDownsampleIntervalSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	ttl := base
	for i := 0; i < index; i++ {
		ttl *= 2
		if ttl > time.Hour {
			return time.Hour
		}
	}
	return ttl
}

// SubQuery is the callback the coordinator uses to execute a live query
// over one segment (or the full range on fallback); internal/engine
// supplies it from outside this package.
type SubQuery func(ctx context.Context, start, end int64) (payload []byte, lastValueTimestamp time.Time, cacheable bool, err error)

// Metrics is the small counter surface the coordinator increments; callers
// wire these to internal/telemetry.
type Metrics struct {
	Hit, Miss, Delete, Uncacheable, Cached func()
	Skip, FullQuery                       func()
}

func noop() {}

func defaultMetrics() Metrics {
	return Metrics{Hit: noop, Miss: noop, Delete: noop, Uncacheable: noop, Cached: noop, Skip: noop, FullQuery: noop}
}

// Coordinator runs the segment-cache flow in spec.md §4.7 over a cache
// plugin and a caller-supplied live sub-query function.
type Coordinator struct {
	Plugin        cacheapi.Plugin
	HitThreshold  float64
	Metrics       Metrics
}

// NewCoordinator builds a Coordinator with the default hit-ratio threshold
// and no-op metrics (callers override Metrics to wire real counters).
func NewCoordinator(plugin cacheapi.Plugin) *Coordinator {
	return &Coordinator{Plugin: plugin, HitThreshold: DefaultHitRatioThreshold, Metrics: defaultMetrics()}
}

// segmentResult pairs a segment with its resolved payload, whether it came
// from cache, and whether it's eligible for write-back.
type segmentResult struct {
	seg        Segment
	payload    []byte
	fromCache  bool
	cacheable  bool
	lastValue  time.Time
}

// Execute runs the full flow: concurrent segment reads, partial-hit
// fallback, tip-query refresh, merge, and asynchronous write-back
// (spec.md §4.7 steps 1-5).
func (c *Coordinator) Execute(ctx context.Context, mode Mode, queryHash uint64, t0, t1, dsIntervalSeconds int64, minDownsampleIntervalSeconds int64, runAll bool, live SubQuery) ([][]byte, error) {
	if mode == ModeClear {
		return c.clear(ctx, queryHash, t0, t1, dsIntervalSeconds, runAll)
	}

	segSeconds, bypass := SegmentSeconds(dsIntervalSeconds, runAll)
	if bypass || mode == ModeBypass {
		c.Metrics.Skip()
		payload, _, _, err := live(ctx, t0, t1)
		if err != nil {
			return nil, err
		}
		return [][]byte{payload}, nil
	}

	segs := SnapRange(t0, t1, segSeconds)
	results := make([]segmentResult, len(segs))

	if mode != ModeWriteOnly {
		c.readSegments(ctx, segs, queryHash, dsIntervalSeconds, results)
	}

	hits := 0
	for _, r := range results {
		if r.fromCache {
			hits++
		}
	}
	ratio := 0.0
	if len(segs) > 0 {
		ratio = float64(hits) / float64(len(segs))
	}

	if hits < len(segs) {
		if ratio >= c.HitThreshold || mode == ModeWriteOnly {
			if err := c.fillMisses(ctx, segs, results, mode, live); err != nil {
				return nil, err
			}
		} else {
			c.Metrics.FullQuery()
			payload, lastValue, cacheable, err := live(ctx, t0, t1)
			if err != nil {
				return nil, err
			}
			if mode == ModeNormal && cacheable {
				c.writeBack(ctx, Key(queryHash, dsIntervalSeconds, t0), payload, lastValue, 0, minDownsampleIntervalSeconds)
			} else if !cacheable {
				c.Metrics.Uncacheable()
			}
			return [][]byte{payload}, nil
		}
	}

	c.refreshTip(ctx, segs, results, queryHash, dsIntervalSeconds, minDownsampleIntervalSeconds, mode, live)

	out := make([][]byte, len(results))
	for i, r := range results {
		out[i] = r.payload
	}
	return out, nil
}

func (c *Coordinator) readSegments(ctx context.Context, segs []Segment, queryHash uint64, dsIntervalSeconds int64, results []segmentResult) {
	var wg sync.WaitGroup
	for i, seg := range segs {
		i, seg := i, seg
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := Key(queryHash, dsIntervalSeconds, seg.Start)
			r, found, err := c.Plugin.Fetch(ctx, key)
			if err != nil {
				log.Warnf("segcache: fetch %s failed, degrading to full query: %v", key, err)
				return
			}
			if !found {
				c.Metrics.Miss()
				results[i] = segmentResult{seg: seg}
				return
			}
			c.Metrics.Hit()
			results[i] = segmentResult{seg: seg, payload: r.Payload, fromCache: true, lastValue: r.LastValueTimestamp}
		}()
	}
	wg.Wait()
}

func (c *Coordinator) fillMisses(ctx context.Context, segs []Segment, results []segmentResult, mode Mode, live SubQuery) error {
	var wg sync.WaitGroup
	errs := make([]error, len(segs))
	for i := range segs {
		if results[i].fromCache {
			continue
		}
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, lastValue, cacheable, err := live(ctx, segs[i].Start, segs[i].End)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = segmentResult{seg: segs[i], payload: payload, cacheable: cacheable, lastValue: lastValue}
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// refreshTip re-issues the trailing 2-3 segments when their cached payload
// looks stale relative to now (spec.md §4.7 step 4).
func (c *Coordinator) refreshTip(ctx context.Context, segs []Segment, results []segmentResult, queryHash uint64, dsIntervalSeconds, minDownsampleIntervalSeconds int64, mode Mode, live SubQuery) {
	if mode == ModeReadOnly {
		return
	}
	tipCount := 3
	if tipCount > len(segs) {
		tipCount = len(segs)
	}
	now := time.Now()
	freshWindow := time.Duration(minDownsampleIntervalSeconds) * time.Second
	for i := len(segs) - tipCount; i < len(segs); i++ {
		if i < 0 || !results[i].fromCache {
			continue
		}
		if now.Sub(results[i].lastValue) > freshWindow {
			continue
		}
		payload, lastValue, cacheable, err := live(ctx, segs[i].Start, segs[i].End)
		if err != nil {
			continue
		}
		results[i] = segmentResult{seg: segs[i], payload: payload, cacheable: cacheable, lastValue: lastValue}
		if mode == ModeNormal {
			c.writeBack(ctx, Key(queryHash, dsIntervalSeconds, segs[i].Start), payload, lastValue, i, minDownsampleIntervalSeconds)
		}
	}

	// write back any fresh misses filled by fillMisses
	if mode == ModeNormal || mode == ModeWriteOnly {
		for i, r := range results {
			if r.fromCache || r.payload == nil {
				continue
			}
			if !r.cacheable {
				c.Metrics.Uncacheable()
				continue
			}
			c.writeBack(ctx, Key(queryHash, dsIntervalSeconds, segs[i].Start), r.payload, r.lastValue, i, minDownsampleIntervalSeconds)
		}
	}
}

func (c *Coordinator) writeBack(ctx context.Context, key string, payload []byte, lastValue time.Time, index int, minDownsampleIntervalSeconds int64) {
	ttl := TTLSchedule(minDownsampleIntervalSeconds, index)
	go func() {
		err := c.Plugin.Cache(context.Background(), cacheapi.CacheQueryResult{
			Key: key, Payload: payload, StoredAt: time.Now(), ExpiresAt: time.Now().Add(ttl), LastValueTimestamp: lastValue,
		})
		if err != nil {
			log.Warnf("segcache: async write-back of %s failed: %v", key, err)
			return
		}
		c.Metrics.Cached()
	}()
}

func (c *Coordinator) clear(ctx context.Context, queryHash uint64, t0, t1, dsIntervalSeconds int64, runAll bool) ([][]byte, error) {
	segSeconds, bypass := SegmentSeconds(dsIntervalSeconds, runAll)
	if bypass {
		return nil, queryerr.New(queryerr.KindValidation, "segcache.Clear", errNoSegmentsToClear)
	}
	segs := SnapRange(t0, t1, segSeconds)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	for _, seg := range segs {
		key := Key(queryHash, dsIntervalSeconds, seg.Start)
		if err := c.Plugin.Delete(ctx, key); err != nil {
			return nil, queryerr.New(queryerr.KindCache, "segcache.Clear", err)
		}
		c.Metrics.Delete()
	}
	return nil, nil
}

var errNoSegmentsToClear = clearErr("segcache: query bypasses segmentation, nothing to clear")

type clearErr string

func (e clearErr) Error() string { return string(e) }
