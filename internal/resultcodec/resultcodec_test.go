package resultcodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	res := tsdata.Result{
		Series: []tsdata.Series{
			{
				ID:   tsdata.ID{TSUID: []byte{0x01, 0x02, 0x03}},
				Kind: tsdata.ValueScalar,
				Tags: map[string]string{"host": "node01"},
				Points: []tsdata.Point{
					{Timestamp: 100, Value: 1.5},
					{Timestamp: 200, Value: 2.5},
				},
			},
		},
	}

	payload, err := Encode(res)
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	out, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, out.Series, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, out.Series[0].ID.TSUID)
	require.Equal(t, "node01", out.Series[0].Tags["host"])
	require.Len(t, out.Series[0].Points, 2)
	require.Equal(t, int64(100), out.Series[0].Points[0].Timestamp)
	require.InDelta(t, 1.5, float64(out.Series[0].Points[0].Value), 1e-9)
	require.InDelta(t, 2.5, float64(out.Series[0].Points[1].Value), 1e-9)
}

func TestEncodeEmptySeriesSet(t *testing.T) {
	payload, err := Encode(tsdata.Result{})
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	require.Empty(t, out.Series)
}
