package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/config"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/storeapi"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

type recordingSink struct {
	mu        sync.Mutex
	results   []tsdata.Result
	completed []string
	errs      []error
}

func (s *recordingSink) OnResult(res tsdata.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *recordingSink) OnComplete(dataSourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, dataSourceID)
	return nil
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func TestRootIDsExcludesNonTerminalNodes(t *testing.T) {
	nodes := []pipeline.NodeConfig{
		{ID: "ds1", Type: "datasource"},
		{ID: "rate1", Type: "rate", Sources: []string{"ds1"}},
	}
	require.Equal(t, []string{"rate1"}, rootIDs(nodes))
}

func TestBuildRequiresSinkForEveryRoot(t *testing.T) {
	doc := []byte(`{"start":"1h","end":"0s","mode":"stream","executionGraph":[{"id":"ds1","sourceId":"ds1","metric":"m"}]}`)
	_, err := Build(context.Background(), doc, map[string]Sink{}, nil, time.Now(), time.Second)
	require.Error(t, err)
}

func TestQueryContextDeliversCompletionForSkippedMetric(t *testing.T) {
	store := storeapi.NewMemStore()
	reg := prometheus.NewRegistry()
	rt, err := config.Apply(config.Default(), store, reg)
	require.NoError(t, err)
	defer rt.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := []byte(`{
		"start": "2026-01-01T00:00:00Z",
		"end": "2026-01-01T01:00:00Z",
		"mode": "stream",
		"executionGraph": [
			{"id": "ds1", "sourceId": "ds1", "metric": "nosuchmetric", "skip_nsun_metric": true, "start": 1767225600, "end": 1767229200}
		]
	}`)

	sink := &recordingSink{}
	qc, err := Build(context.Background(), doc, map[string]Sink{"ds1": sink}, nil, now, 5*time.Second)
	require.NoError(t, err)
	defer qc.Close()

	require.NoError(t, qc.Initialize(context.Background()))

	ev, ok := qc.FetchNext()
	require.True(t, ok)
	require.Equal(t, "ds1", ev.RootID)
	require.Nil(t, ev.Err)

	_, ok = qc.FetchNext()
	require.False(t, ok, "events channel closes once every root has completed")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []string{"ds1"}, sink.completed)
	require.Empty(t, sink.errs)
}

func TestQueryContextSignalsErrorForUnresolvableMetric(t *testing.T) {
	store := storeapi.NewMemStore()
	reg := prometheus.NewRegistry()
	rt, err := config.Apply(config.Default(), store, reg)
	require.NoError(t, err)
	defer rt.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := []byte(`{
		"start": "2026-01-01T00:00:00Z",
		"end": "2026-01-01T01:00:00Z",
		"mode": "stream",
		"executionGraph": [
			{"id": "ds1", "sourceId": "ds1", "metric": "nosuchmetric", "start": 1767225600, "end": 1767229200}
		]
	}`)

	sink := &recordingSink{}
	qc, err := Build(context.Background(), doc, map[string]Sink{"ds1": sink}, nil, now, 5*time.Second)
	require.NoError(t, err)
	defer qc.Close()

	require.NoError(t, qc.Initialize(context.Background()))

	ev, ok := qc.FetchNext()
	require.True(t, ok)
	require.Error(t, ev.Err)

	_, ok = qc.FetchNext()
	require.False(t, ok)
}
