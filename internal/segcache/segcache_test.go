package segcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/cacheapi"
)

func TestSegmentSecondsBoundaryChoice(t *testing.T) {
	s, bypass := SegmentSeconds(60, false)
	require.False(t, bypass)
	require.Equal(t, int64(3600), s)

	s, bypass = SegmentSeconds(3600, false)
	require.False(t, bypass)
	require.Equal(t, int64(86400), s)

	_, bypass = SegmentSeconds(86400, false)
	require.True(t, bypass)

	_, bypass = SegmentSeconds(60, true)
	require.True(t, bypass, "run_all bypasses regardless of interval")
}

func TestSnapRangeProducesContiguousSegments(t *testing.T) {
	segs := SnapRange(100, 3700, 3600)
	require.Len(t, segs, 2)
	require.Equal(t, int64(0), segs[0].Start)
	require.Equal(t, int64(3600), segs[0].End)
	require.Equal(t, int64(3600), segs[1].Start)
	require.Equal(t, int64(7200), segs[1].End)
}

// Scenario E (spec.md §8): DS=1m, range 3600s. Cold run: one segment miss,
// one full sub-query, one write-back. Warm run: one segment hit, no
// sub-query, identical result bytes.
func TestCacheIdempotenceScenarioE(t *testing.T) {
	plugin := cacheapi.NewMemPlugin()
	coord := NewCoordinator(plugin)

	liveCalls := 0
	live := func(ctx context.Context, start, end int64) ([]byte, time.Time, bool, error) {
		liveCalls++
		return []byte("segment-payload"), time.Now().Add(-time.Hour), true, nil
	}

	out1, err := coord.Execute(context.Background(), ModeNormal, 42, 0, 3600, 60, 60, false, live)
	require.NoError(t, err)
	require.Equal(t, 1, liveCalls)

	// Let the async write-back goroutine land before the warm run.
	time.Sleep(20 * time.Millisecond)

	out2, err := coord.Execute(context.Background(), ModeNormal, 42, 0, 3600, 60, 60, false, live)
	require.NoError(t, err)
	require.Equal(t, 1, liveCalls, "second run must hit cache, not call live again")
	require.Equal(t, out1, out2)
}

// Testable property 9 (spec.md §8): hit ratio below 0.60 issues exactly one
// full-range sub-query and no per-segment sub-queries.
func TestPartialHitBelowThresholdFallsBackToFullQuery(t *testing.T) {
	plugin := cacheapi.NewMemPlugin()
	coord := NewCoordinator(plugin)

	fullRangeCalls := 0
	live := func(ctx context.Context, start, end int64) ([]byte, time.Time, bool, error) {
		if end-start > 86400 {
			fullRangeCalls++
		}
		return []byte("payload"), time.Now(), true, nil
	}

	// 3 segments of width 86400 (DS=3600 selects the 86400s segment width),
	// all miss (0% hit ratio) -> single full-range sub-query.
	out, err := coord.Execute(context.Background(), ModeNormal, 7, 0, 3*86400, 3600, 60, false, live)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, fullRangeCalls)
}
