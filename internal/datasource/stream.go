package datasource

import (
	"context"

	"github.com/tsqueng/coreengine/internal/nodes/downsample"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// bytesPerPoint approximates a scalar sample's wire size (8-byte value +
// 8-byte timestamp) for the soft byte-limit check; it need not be exact,
// only proportionate.
const bytesPerPoint = 16

// applyDownsampleHint reduces a series' points toward the requested
// cadence before it's ever handed to a downstream Downsample node
// (SPEC_FULL.md §4.4). It estimates the series' native interval from its
// span so the LTTB/stride math in internal/nodes/downsample has a
// frequency ratio to work with; irregular series are left alone.
func applyDownsampleHint(s tsdata.Series, hintSeconds int64) tsdata.Series {
	if hintSeconds <= 0 || len(s.Points) < 2 {
		return s
	}
	span := s.Points[len(s.Points)-1].Timestamp - s.Points[0].Timestamp
	if span <= 0 {
		return s
	}
	nativeInterval := span / int64(len(s.Points)-1)
	if nativeInterval <= 0 || hintSeconds <= nativeInterval {
		return s
	}

	values := make([]tsdata.Float, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	reduced, _, err := downsample.LTTB(values, int(nativeInterval), int(hintSeconds))
	if err != nil || len(reduced) == len(values) {
		return s
	}

	step := len(s.Points) / len(reduced)
	if step <= 0 {
		step = 1
	}
	points := make([]tsdata.Point, 0, len(reduced))
	for i, v := range reduced {
		idx := i * step
		if idx >= len(s.Points) {
			idx = len(s.Points) - 1
		}
		points = append(points, tsdata.Point{Timestamp: s.Points[idx].Timestamp, Value: v})
	}
	s.Points = points
	return s
}

// emitter streams a node's resolved series to its sinks, chunking any
// single series that exceeds the configured soft row/byte limit into
// multiple PartialTimeSeriesSet batches (spec.md §4.4 "Streaming").
type emitter struct {
	forward    func(context.Context, tsdata.PartialTimeSeriesSet) error
	start, end int64
	limits     Limits
	seq        int64
}

func newEmitter(forward func(context.Context, tsdata.PartialTimeSeriesSet) error, start, end int64, limits Limits) *emitter {
	if limits.SoftRowLimit <= 0 {
		limits.SoftRowLimit = DefaultLimits().SoftRowLimit
	}
	if limits.SoftByteLimit <= 0 {
		limits.SoftByteLimit = DefaultLimits().SoftByteLimit
	}
	return &emitter{forward: forward, start: start, end: end, limits: limits}
}

// Emit sends one series, splitting it across batches as needed; it does
// not set Final -- call Finish once every series has been emitted.
func (e *emitter) Emit(ctx context.Context, s tsdata.Series) error {
	if len(s.Points) == 0 {
		return e.forward(ctx, tsdata.PartialTimeSeriesSet{
			Start: e.start, End: e.end, Sequence: e.nextSeq(), Series: []tsdata.Series{s},
		})
	}
	maxRows := e.limits.SoftRowLimit
	maxRowsFromBytes := e.limits.SoftByteLimit / bytesPerPoint
	if maxRowsFromBytes > 0 && maxRowsFromBytes < maxRows {
		maxRows = maxRowsFromBytes
	}
	if maxRows <= 0 {
		maxRows = len(s.Points)
	}

	for off := 0; off < len(s.Points); off += maxRows {
		hi := off + maxRows
		if hi > len(s.Points) {
			hi = len(s.Points)
		}
		chunk := s
		chunk.Points = s.Points[off:hi]
		if err := e.forward(ctx, tsdata.PartialTimeSeriesSet{
			Start: e.start, End: e.end, Sequence: e.nextSeq(), Series: []tsdata.Series{chunk},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Finish emits the terminal, empty, Final-flagged batch.
func (e *emitter) Finish(ctx context.Context) (finalSeq, totalSeq int64, err error) {
	finalSeq = e.nextSeq()
	err = e.forward(ctx, tsdata.PartialTimeSeriesSet{Start: e.start, End: e.end, Sequence: finalSeq, Final: true})
	return finalSeq, finalSeq + 1, err
}

func (e *emitter) nextSeq() int64 {
	s := e.seq
	e.seq++
	return s
}
