package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"

	"audioseg/logger"
	"audioseg/parallel"
	"audioseg/progress"
)

// Segment describes one fixed-length slice of the final MP3. Path is set by
// the segmenter; Data is filled when the segment is materialized.
type Segment struct {
	Index int
	Name  string
	Path  string
	Data  []byte
}

// SegmentError reports the failing trim of a segmentation run.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// SegmentName is the stable identifier of segment i.
func SegmentName(i int) string {
	return fmt.Sprintf("segment_%03d.mp3", i)
}

// SegmentCount is ceil(duration/length), never less than one.
func SegmentCount(duration float64, length int) int {
	if length <= 0 {
		return 0
	}
	n := int(math.Ceil(duration / float64(length)))
	if n < 1 {
		n = 1
	}
	return n
}

type durationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type trimmer interface {
	Trim(ctx context.Context, src, dst string, start, length float64) error
}

// Segmenter splits an MP3 into fixed-length segments with bounded fan-out.
type Segmenter struct {
	prober      durationProber
	trimmer     trimmer
	length      int
	concurrency int
}

func NewSegmenter(prober durationProber, trimmer trimmer, length, concurrency int) *Segmenter {
	return &Segmenter{prober: prober, trimmer: trimmer, length: length, concurrency: concurrency}
}

func (s *Segmenter) Length() int { return s.length }

// Split writes segment_NNN.mp3 files into outDir and returns them in index
// order. Any failed trim fails the whole split.
func (s *Segmenter) Split(ctx context.Context, src, outDir string, budget progress.Budget, report progress.ReportFunc) ([]Segment, error) {
	duration, err := s.prober.Duration(ctx, src)
	if err != nil {
		return nil, err
	}

	total := SegmentCount(duration, s.length)
	plan := make([]Segment, total)
	for i := range plan {
		name := SegmentName(i)
		plan[i] = Segment{Index: i, Name: name, Path: filepath.Join(outDir, name)}
	}

	logger.Info("Splitting audio into segments",
		logger.String("src", src),
		logger.Float64("duration", duration),
		logger.Int("segments", total),
		logger.Int("concurrency", s.concurrency))

	var completed atomic.Int64
	return parallel.Map(ctx, plan, s.concurrency, func(ctx context.Context, i int, seg Segment) (Segment, error) {
		start := float64(i * s.length)
		if err := s.trimmer.Trim(ctx, src, seg.Path, start, float64(s.length)); err != nil {
			return Segment{}, &SegmentError{Index: i, Err: err}
		}
		done := int(completed.Add(1))
		report(budget.Scale(float64(done)/float64(total)), progress.Details{
			Type:           "segmenting",
			Message:        fmt.Sprintf("Created segment %d of %d", done, total),
			CurrentSegment: done,
			TotalSegments:  total,
		})
		return seg, nil
	})
}
