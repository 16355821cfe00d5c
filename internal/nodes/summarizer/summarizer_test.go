package summarizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

func TestSummarizeMultipleAggregators(t *testing.T) {
	s := tsdata.Series{
		ID: tsdata.ID{Label: "cpu"},
		Points: []tsdata.Point{
			{Timestamp: 0, Value: 1},
			{Timestamp: 1, Value: 2},
			{Timestamp: 2, Value: 3},
		},
	}
	out, err := Summarize(s, []string{"sum", "avg", "max"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "cpu:sum", out[0].ID.Label)
	require.Equal(t, tsdata.Float(6), out[0].Points[0].Value)
	require.Equal(t, tsdata.Float(2), out[1].Points[0].Value)
	require.Equal(t, tsdata.Float(3), out[2].Points[0].Value)
}
