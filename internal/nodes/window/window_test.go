package window

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func TestWindowSumOverWidth(t *testing.T) {
	s := tsdata.Series{Points: []tsdata.Point{
		{Timestamp: 0, Value: 1},
		{Timestamp: 60, Value: 2},
		{Timestamp: 120, Value: 3},
		{Timestamp: 180, Value: 4},
	}}
	sum, err := aggregate.Lookup("sum")
	require.NoError(t, err)

	out := Apply(s, 120, sum)
	require.Equal(t, tsdata.Float(1), out.Points[0].Value)
	require.Equal(t, tsdata.Float(3), out.Points[1].Value)
	require.Equal(t, tsdata.Float(6), out.Points[2].Value)
	require.Equal(t, tsdata.Float(9), out.Points[3].Value, "window [60,180] covers the last three samples")
}
