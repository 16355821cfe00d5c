package downsample

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/timeutil"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Scenario B (spec.md §8): one sample per hour for 16 hours, value 1;
// downsample 1h mean with PREFER_NEXT fill -> 16 buckets per series, value 1.
func TestDownsampleScenarioB(t *testing.T) {
	const start = 1517443200
	points := make([]tsdata.Point, 16)
	for i := range points {
		points[i] = tsdata.Point{Timestamp: start + int64(i)*3600, Value: 1}
	}
	s := tsdata.Series{ID: tsdata.ID{Label: "A"}, Kind: tsdata.ValueScalar, Points: points}

	mean, err := aggregate.Lookup("avg")
	require.NoError(t, err)

	out := Downsample(s, start, start+16*3600, 3600, mean, timeutil.FillPreferNext, 0)
	require.Len(t, out.Points, 16)
	for _, p := range out.Points {
		require.Equal(t, tsdata.Float(1), p.Value)
	}
}

func TestDownsampleFillsMidGapWithPreferNext(t *testing.T) {
	const start = 0
	points := []tsdata.Point{
		{Timestamp: 0, Value: 5},
		// bucket at 3600 has no sample
		{Timestamp: 2 * 3600, Value: 10},
	}
	s := tsdata.Series{Points: points}
	mean, _ := aggregate.Lookup("avg")

	out := Downsample(s, start, start+3*3600, 3600, mean, timeutil.FillPreferNext, 0)
	require.Len(t, out.Points, 3)
	require.Equal(t, tsdata.Float(5), out.Points[0].Value)
	require.Equal(t, tsdata.Float(10), out.Points[1].Value, "gap fills forward from the next real sample")
	require.Equal(t, tsdata.Float(10), out.Points[2].Value)
}
