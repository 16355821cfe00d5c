package queryconfig

import (
	"testing"
	"time"
)

func TestParseResolvesAbsoluteTimesAndGraph(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := []byte(`{
		"start": "2026-01-01T00:00:00Z",
		"end": "2026-01-01T01:00:00Z",
		"mode": "stream",
		"cacheMode": "enabled",
		"executionGraph": [
			{"id": "ds1", "sourceId": "ds1", "metric": "sys.cpu.user", "start": 1767225600, "end": 1767229200},
			{"id": "ds2", "type": "downsample", "sources": ["ds1"], "intervalSeconds": 60}
		]
	}`)

	p, err := Parse(doc, now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Start != now.Unix() {
		t.Fatalf("start = %d, want %d", p.Start, now.Unix())
	}
	wantEnd := now.Add(time.Hour).Unix()
	if p.End != wantEnd {
		t.Fatalf("end = %d, want %d", p.End, wantEnd)
	}
	if p.Mode != "stream" || p.CacheMode != "enabled" {
		t.Fatalf("mode/cacheMode mismatch: %+v", p)
	}
	if len(p.Nodes) != 2 {
		t.Fatalf("want 2 nodes, got %d", len(p.Nodes))
	}
	if p.Nodes[0].Type != "datasource" {
		t.Fatalf("node 0 type = %q, want datasource (inferred from sourceId)", p.Nodes[0].Type)
	}
	if p.Nodes[0].Options["metric"] != "sys.cpu.user" {
		t.Fatalf("node 0 options missing metric: %+v", p.Nodes[0].Options)
	}
	if p.Nodes[1].Type != "downsample" || len(p.Nodes[1].Sources) != 1 || p.Nodes[1].Sources[0] != "ds1" {
		t.Fatalf("node 1 mismatch: %+v", p.Nodes[1])
	}
}

func TestParseRejectsEndBeforeStart(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := []byte(`{"start": "1h", "end": "2h", "mode": "stream", "executionGraph": []}`)
	if _, err := Parse(doc, now); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestParseRelativeTimes(t *testing.T) {
	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	doc := []byte(`{"start": "1h", "end": "0s", "mode": "stream", "executionGraph": []}`)
	p, err := Parse(doc, now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Start != now.Add(-time.Hour).Unix() {
		t.Fatalf("start = %d", p.Start)
	}
	if p.End != now.Unix() {
		t.Fatalf("end = %d", p.End)
	}
}

func TestParseMissingNodeTypeErrors(t *testing.T) {
	now := time.Now()
	doc := []byte(`{"start": "1h", "end": "0s", "mode": "stream", "executionGraph": [{"id": "x"}]}`)
	if _, err := Parse(doc, now); err == nil {
		t.Fatal("expected error for node missing type/sourceId")
	}
}
