package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audioseg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedProber float64

func (p fixedProber) Duration(context.Context, string) (float64, error) { return float64(p), nil }

type trimFunc func(ctx context.Context, src, dst string, start, length float64) error

func (f trimFunc) Trim(ctx context.Context, src, dst string, start, length float64) error {
	return f(ctx, src, dst, start, length)
}

func TestSegmentCount(t *testing.T) {
	assert.Equal(t, 3, SegmentCount(25, 10))
	assert.Equal(t, 2, SegmentCount(20, 10))
	assert.Equal(t, 1, SegmentCount(0.5, 10))
	assert.Equal(t, 1, SegmentCount(0, 15))
	assert.Equal(t, 48, SegmentCount(720, 15))
}

func TestSegmentName(t *testing.T) {
	assert.Equal(t, "segment_000.mp3", SegmentName(0))
	assert.Equal(t, "segment_071.mp3", SegmentName(71))
}

func TestSplit(t *testing.T) {
	var mu sync.Mutex
	starts := map[int]float64{}
	trim := trimFunc(func(ctx context.Context, src, dst string, start, length float64) error {
		mu.Lock()
		defer mu.Unlock()
		starts[int(start)] = length
		return nil
	})
	s := NewSegmenter(fixedProber(25), trim, 10, 2)

	var mu2 sync.Mutex
	var reports []float64
	segs, err := s.Split(context.Background(), "final.mp3", "/tmp/segs", progress.Budget{Start: 50, End: 70},
		func(p float64, d progress.Details) {
			mu2.Lock()
			reports = append(reports, p)
			mu2.Unlock()
			assert.Equal(t, 3, d.TotalSegments)
		})
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Equal(t, i, seg.Index)
		assert.Equal(t, fmt.Sprintf("segment_%03d.mp3", i), seg.Name)
		assert.Equal(t, "/tmp/segs/"+seg.Name, seg.Path)
	}
	assert.Equal(t, map[int]float64{0: 10, 10: 10, 20: 10}, starts)
	require.Len(t, reports, 3)
	assert.Contains(t, reports, float64(70))
}

func TestSplitBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	trim := trimFunc(func(ctx context.Context, src, dst string, start, length float64) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	s := NewSegmenter(fixedProber(100), trim, 10, 3)

	segs, err := s.Split(context.Background(), "final.mp3", "out", progress.Budget{Start: 50, End: 70}, progress.Discard)
	require.NoError(t, err)
	assert.Len(t, segs, 10)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestSplitFailure(t *testing.T) {
	boom := errors.New("trim failed")
	trim := trimFunc(func(ctx context.Context, src, dst string, start, length float64) error {
		if start == 10 {
			return boom
		}
		return nil
	})
	s := NewSegmenter(fixedProber(30), trim, 10, 1)

	_, err := s.Split(context.Background(), "final.mp3", "out", progress.Budget{Start: 50, End: 70}, progress.Discard)
	require.Error(t, err)
	var segErr *SegmentError
	require.ErrorAs(t, err, &segErr)
	assert.Equal(t, 1, segErr.Index)
	assert.ErrorIs(t, err, boom)
}
