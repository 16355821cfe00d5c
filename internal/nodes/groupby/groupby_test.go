package groupby

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Scenario D (spec.md §8): group-by on tag "dc" over series with no "dc"
// tag, aggregator sum -> a single group with the sum across all series.
func TestGroupByScenarioD(t *testing.T) {
	series := []tsdata.Series{
		{ID: tsdata.ID{Label: "s1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}},
		{ID: tsdata.ID{Label: "s2"}, Points: []tsdata.Point{{Timestamp: 0, Value: 2}}},
		{ID: tsdata.ID{Label: "s3"}, Points: []tsdata.Point{{Timestamp: 0, Value: 3}}},
	}
	sum, err := aggregate.Lookup("sum")
	require.NoError(t, err)

	out, err := Group(context.Background(), series, Config{TagKeys: []string{"dc"}}, sum)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, tsdata.Float(6), out[0].Points[0].Value)
}

func TestGroupByParallelMatchesSerial(t *testing.T) {
	series := []tsdata.Series{
		{Tags: map[string]string{"dc": "a"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}},
		{Tags: map[string]string{"dc": "a"}, Points: []tsdata.Point{{Timestamp: 0, Value: 2}}},
		{Tags: map[string]string{"dc": "b"}, Points: []tsdata.Point{{Timestamp: 0, Value: 10}}},
	}
	sum, _ := aggregate.Lookup("sum")
	cfg := Config{TagKeys: []string{"dc"}, ProcessInParallel: true, ThreadCount: 2}

	out, err := Group(context.Background(), series, cfg, sum)
	require.NoError(t, err)
	require.Len(t, out, 2)

	total := 0.0
	for _, s := range out {
		total += float64(s.Points[0].Value)
	}
	require.Equal(t, 13.0, total)
}

// Exercises the admission-queue path with a queue depth and per-job batch
// size both smaller than the number of groups, so jobs must actually
// contend for queue slots rather than all fitting in one shot.
func TestGroupByParallelHonorsQueueDepthAndBatchSize(t *testing.T) {
	var series []tsdata.Series
	dcs := []string{"a", "b", "c", "d", "e", "f"}
	for i, dc := range dcs {
		series = append(series,
			tsdata.Series{Tags: map[string]string{"dc": dc}, Points: []tsdata.Point{{Timestamp: 0, Value: tsdata.Float(i + 1)}}},
			tsdata.Series{Tags: map[string]string{"dc": dc}, Points: []tsdata.Point{{Timestamp: 0, Value: tsdata.Float(i + 1)}}},
		)
	}
	sum, _ := aggregate.Lookup("sum")
	cfg := Config{
		TagKeys:           []string{"dc"},
		ProcessInParallel: true,
		ThreadCount:       2,
		TimeSeriesPerJob:  2,
		QueueThreshold:    1,
	}

	out, err := Group(context.Background(), series, cfg, sum)
	require.NoError(t, err)
	require.Len(t, out, len(dcs))

	total := 0.0
	for _, s := range out {
		total += float64(s.Points[0].Value)
	}
	require.Equal(t, 2*(1+2+3+4+5+6), int(total))
}
