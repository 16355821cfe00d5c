package downsample

import (
	"fmt"
	"math"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// SimpleResample picks every step-th sample, a cheap stride reduction used
// when the caller just wants fewer points at roughly the right cadence
// (adapted from the teacher's pkg/resampler.SimpleResampler).
func SimpleResample(data []tsdata.Float, oldFrequency, newFrequency int64) ([]tsdata.Float, error) {
	if oldFrequency == 0 || newFrequency == 0 {
		return nil, fmt.Errorf("downsample: old or new frequency is 0")
	}
	if newFrequency%oldFrequency != 0 {
		return nil, fmt.Errorf("downsample: new frequency must be a multiple of the old frequency")
	}
	step := int(newFrequency / oldFrequency)
	newLen := len(data) / step
	if newLen == 0 || len(data) < 100 || newLen >= len(data) {
		return data, nil
	}
	out := make([]tsdata.Float, newLen)
	for i := 0; i < newLen; i++ {
		out[i] = data[i*step]
	}
	return out, nil
}

// LTTB reduces data to roughly newLen points using the Largest-Triangle-
// Three-Buckets algorithm, preserving visual shape better than plain
// striding (adapted from the teacher's
// pkg/resampler.LargestTriangleThreeBucket, itself adapted from
// https://github.com/haoel/downsampling).
func LTTB(data []tsdata.Float, oldFrequency, newFrequency int) ([]tsdata.Float, int, error) {
	if oldFrequency == 0 || newFrequency == 0 {
		return data, oldFrequency, nil
	}
	if newFrequency%oldFrequency != 0 {
		return nil, 0, fmt.Errorf("downsample: new frequency %d must be a multiple of the old frequency %d", newFrequency, oldFrequency)
	}
	step := newFrequency / oldFrequency
	newLen := len(data) / step
	if newLen == 0 || len(data) < 100 || newLen >= len(data) {
		return data, oldFrequency, nil
	}

	out := make([]tsdata.Float, 0, newLen)
	out = append(out, data[0])

	bucketSize := float64(len(data)-2) / float64(newLen-2)
	bucketLow := 1
	bucketMiddle := int(math.Floor(bucketSize)) + 1
	var prevMaxAreaPoint int

	for i := 0; i < newLen-2; i++ {
		bucketHigh := int(math.Floor(float64(i+2)*bucketSize)) + 1
		if bucketHigh >= len(data)-1 {
			bucketHigh = len(data) - 2
		}

		avgX, avgY := averagePoint(data[bucketMiddle:bucketHigh+1], int64(bucketMiddle))

		currStart, currEnd := bucketLow, bucketMiddle
		pointX, pointY := float64(prevMaxAreaPoint), data[prevMaxAreaPoint]

		maxArea := -1.0
		maxAreaPoint := currStart
		for ; currStart < currEnd; currStart++ {
			area := triangleArea(pointX, pointY, avgX, avgY, float64(currStart), data[currStart])
			if area > maxArea {
				maxArea = area
				maxAreaPoint = currStart
			}
		}

		out = append(out, data[maxAreaPoint])
		prevMaxAreaPoint = maxAreaPoint

		bucketLow = bucketMiddle
		bucketMiddle = bucketHigh
	}

	out = append(out, data[len(data)-1])
	return out, newFrequency, nil
}

func triangleArea(paX float64, paY tsdata.Float, pbX float64, pbY tsdata.Float, pcX float64, pcY tsdata.Float) float64 {
	area := ((paX-pcX)*float64(pbY-paY) - (paX-pbX)*float64(pcY-paY)) * 0.5
	return math.Abs(area)
}

func averagePoint(points []tsdata.Float, xStart int64) (avgX float64, avgY tsdata.Float) {
	hasNaN := false
	var sumX float64
	var sumY tsdata.Float
	for _, p := range points {
		sumX += float64(xStart)
		sumY += p
		xStart++
		if p.IsNaN() {
			hasNaN = true
		}
	}
	n := float64(len(points))
	avgX = sumX / n
	if hasNaN {
		return avgX, tsdata.NaN()
	}
	return avgX, sumY / tsdata.Float(n)
}
