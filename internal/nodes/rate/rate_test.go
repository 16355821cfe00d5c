package rate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Testable property 6 (spec.md §8): decreasing sample with counter=false
// yields the raw negative delta.
func TestRateNonCounterNegativeDelta(t *testing.T) {
	s := tsdata.Series{Points: []tsdata.Point{
		{Timestamp: 0, Value: 10},
		{Timestamp: 1, Value: 4},
	}}
	out := Apply(s, Config{DeltaOnly: true})
	require.Len(t, out.Points, 1)
	require.Equal(t, tsdata.Float(-6), out.Points[0].Value)
}

// counter=true wraps at counter_max before computing the delta.
func TestRateCounterWraparound(t *testing.T) {
	s := tsdata.Series{Points: []tsdata.Point{
		{Timestamp: 0, Value: 250},
		{Timestamp: 1, Value: 10},
	}}
	out := Apply(s, Config{Counter: true, CounterMax: 255, DeltaOnly: true})
	require.Len(t, out.Points, 1)
	require.Equal(t, tsdata.Float(15), out.Points[0].Value) // (255-250)+10
}

func TestRateResetValueZeroesLargeJump(t *testing.T) {
	s := tsdata.Series{Points: []tsdata.Point{
		{Timestamp: 0, Value: 9000},
		{Timestamp: 1, Value: 5},
	}}
	out := Apply(s, Config{Counter: true, CounterMax: 10000, ResetValue: 500, DeltaOnly: true})
	require.Len(t, out.Points, 1)
	require.Equal(t, tsdata.Float(0), out.Points[0].Value)
}

func TestRateDropResetsOmitsPoint(t *testing.T) {
	s := tsdata.Series{Points: []tsdata.Point{
		{Timestamp: 0, Value: 9000},
		{Timestamp: 1, Value: 5},
		{Timestamp: 2, Value: 8},
	}}
	out := Apply(s, Config{Counter: true, CounterMax: 10000, ResetValue: 500, DropResets: true, DeltaOnly: true})
	require.Len(t, out.Points, 1)
	require.Equal(t, int64(2), out.Points[0].Timestamp)
}
