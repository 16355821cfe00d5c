package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/catalog"
	"github.com/tsqueng/coreengine/internal/codec"
	"github.com/tsqueng/coreengine/internal/rowkey"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// sinkSpy is a minimal pipeline.Node fake that records whatever a
// data-source node forwards to it.
type sinkSpy struct {
	partials  []tsdata.PartialTimeSeriesSet
	completed bool
	err       error
}

func (s *sinkSpy) ID() string                        { return "sink" }
func (s *sinkSpy) Initialize(ctx context.Context) error { return nil }
func (s *sinkSpy) OnNext(ctx context.Context, res tsdata.Result) error { return nil }
func (s *sinkSpy) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	s.partials = append(s.partials, set)
	return nil
}
func (s *sinkSpy) OnComplete(ctx context.Context, fromNode, dataSourceID string, finalSeq, totalSeq int64) error {
	s.completed = true
	return nil
}
func (s *sinkSpy) OnError(ctx context.Context, err error) error {
	s.err = err
	return nil
}

func seedRawRow(t *testing.T, store *storeapi.MemStore, cfg rowkey.Config, table, family string, metricUID []byte, pairs []rowkey.TagPair, baseTime int64, offsets []int64, values []float64) {
	t.Helper()
	ctx := context.Background()
	key, err := rowkey.EncodeRowKey(cfg, metricUID, baseTime, pairs)
	require.NoError(t, err)
	for i, off := range offsets {
		q, v, err := codec.EncodeRawCell(off, false, codec.FloatValue(values[i]), 8)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, table, key, family, q, v))
	}
}

func TestDataSourceScanEmitsResolvedSeries(t *testing.T) {
	ctx := context.Background()
	store := storeapi.NewMemStore()
	rsAdapter := catalog.RowStoreAdapter{Store: store}
	cache, err := catalog.NewCache(rsAdapter, catalog.DefaultCacheConfig())
	require.NoError(t, err)

	require.NoError(t, catalog.Assign(ctx, store, catalog.KindMetric, "sys.cpu.user", []byte{0, 0, 1}))
	require.NoError(t, catalog.Assign(ctx, store, catalog.KindTagKey, "host", []byte{0, 0, 1}))
	require.NoError(t, catalog.Assign(ctx, store, catalog.KindTagValue, "web01", []byte{0, 0, 1}))

	cfg := rowkey.DefaultConfig()
	pairs := []rowkey.TagPair{{TagK: []byte{0, 0, 1}, TagV: []byte{0, 0, 1}}}
	seedRawRow(t, store, cfg, "tsdb", "t", []byte{0, 0, 1}, pairs, 0, []int64{0, 60, 120}, []float64{1, 2, 3})

	n := NewNode("ds1", cache, store, cfg, nil, Config{
		Metric: "sys.cpu.user", Start: 0, End: 300, RawTable: "tsdb", RawFamily: "t", Limits: DefaultLimits(),
	})
	sink := &sinkSpy{}
	n.AddSink(sink)

	require.NoError(t, n.Run(ctx, "ds1"))
	require.True(t, sink.completed)
	require.Nil(t, sink.err)

	var gotPoints int
	var gotLabel string
	for _, p := range sink.partials {
		for _, s := range p.Series {
			gotPoints += len(s.Points)
			gotLabel = s.ID.Label
			require.Equal(t, "web01", s.Tags["host"])
		}
	}
	require.Equal(t, "sys.cpu.user", gotLabel)
	require.Equal(t, 3, gotPoints)
}

func TestDataSourceUnresolvedMetricWithSkipEmitsEmpty(t *testing.T) {
	ctx := context.Background()
	store := storeapi.NewMemStore()
	cache, err := catalog.NewCache(catalog.RowStoreAdapter{Store: store}, catalog.DefaultCacheConfig())
	require.NoError(t, err)

	n := NewNode("ds1", cache, store, rowkey.DefaultConfig(), nil, Config{
		Metric: "no.such.metric", SkipNSUNMetric: true, Start: 0, End: 60, RawTable: "tsdb", RawFamily: "t", Limits: DefaultLimits(),
	})
	sink := &sinkSpy{}
	n.AddSink(sink)

	require.NoError(t, n.Run(ctx, "ds1"))
	require.True(t, sink.completed)
	require.Nil(t, sink.err)
	require.Len(t, sink.partials, 1)
	require.True(t, sink.partials[0].Final)
}

func TestDataSourceUnresolvedMetricWithoutSkipErrors(t *testing.T) {
	ctx := context.Background()
	store := storeapi.NewMemStore()
	cache, err := catalog.NewCache(catalog.RowStoreAdapter{Store: store}, catalog.DefaultCacheConfig())
	require.NoError(t, err)

	n := NewNode("ds1", cache, store, rowkey.DefaultConfig(), nil, Config{
		Metric: "no.such.metric", Start: 0, End: 60, RawTable: "tsdb", RawFamily: "t", Limits: DefaultLimits(),
	})
	sink := &sinkSpy{}
	n.AddSink(sink)

	err = n.Run(ctx, "ds1")
	require.Error(t, err)
	require.NotNil(t, sink.err)
}
