package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"audioseg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProfile = Profile{Bitrate: "192k", SampleRate: 44100, Channels: 2}

func TestProgressParser(t *testing.T) {
	var pp progressParser
	assert.False(t, pp.feed("size=   1kB time=00:00:01.00"))
	assert.False(t, pp.feed("  Duration: 00:00:20.00, start: 0.000000, bitrate: 1411 kb/s"))
	assert.Equal(t, float64(20), pp.duration)

	assert.True(t, pp.feed("size=  10kB time=00:00:05.00 bitrate= 192.0kbits/s"))
	assert.InDelta(t, 0.25, pp.fraction(), 1e-9)

	// Positions never move backwards.
	assert.False(t, pp.feed("size=  10kB time=00:00:04.00"))
	assert.True(t, pp.feed("size=  50kB time=00:00:30.00"))
	assert.Equal(t, float64(1), pp.fraction())
}

func TestTranscodeReportsWithinBudget(t *testing.T) {
	runner := &fakeRunner{runFunc: func(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
		onLine(Stderr, "Duration: 00:00:10.00, start: 0.000000")
		onLine(Stderr, "size= 1kB time=00:00:05.00")
		onLine(Stdout, "ignored time=00:00:09.00")
		onLine(Stderr, "size= 2kB time=00:00:10.00")
		return &Result{}, nil
	}}
	tr := NewTranscoder("ffmpeg", runner, testProfile, nil)

	var reports []float64
	err := tr.Transcode(context.Background(), "in.wav", "out.mp3", progress.Budget{Start: 30, End: 45},
		func(percent float64, d progress.Details) {
			reports = append(reports, percent)
			assert.Equal(t, "transcoding", d.Type)
		})
	require.NoError(t, err)
	assert.Equal(t, []float64{37.5, 45}, reports)

	args := runner.Calls()[0]
	assert.Contains(t, args, "libmp3lame")
	assert.Contains(t, args, "192k")
	assert.Contains(t, args, "44100")
	assert.Equal(t, "out.mp3", args[len(args)-1])
}

func TestTranscodeHWFallback(t *testing.T) {
	runner := &fakeRunner{runFunc: func(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
		for _, a := range args {
			if a == "-hwaccel" {
				return nil, &ExitError{Program: program, Code: 1, Output: "no device"}
			}
		}
		return &Result{}, nil
	}}
	tr := NewTranscoder("ffmpeg", runner, testProfile, []string{"-hwaccel", "cuda"})

	err := tr.Transcode(context.Background(), "in.wav", "out.mp3", progress.Budget{Start: 30, End: 45}, progress.Discard)
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "-hwaccel")
	assert.NotContains(t, calls[1], "-hwaccel")
}

func TestTranscodeFailureRemovesOutput(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.mp3")
	runner := &fakeRunner{runFunc: func(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
		require.NoError(t, os.WriteFile(dst, []byte("partial"), 0o644))
		return nil, &ExitError{Program: program, Code: 1, Output: "Invalid data found when processing input"}
	}}
	tr := NewTranscoder("ffmpeg", runner, testProfile, nil)

	err := tr.Transcode(context.Background(), "in.wav", dst, progress.Budget{Start: 30, End: 45}, progress.Discard)
	require.Error(t, err)
	assert.Contains(t, OutputTail(err, 5), "Invalid data")
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTrimArgs(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewTranscoder("ffmpeg", runner, testProfile, []string{"-hwaccel", "cuda"})

	require.NoError(t, tr.Trim(context.Background(), "final.mp3", "seg.mp3", 20, 10))
	args := runner.Calls()[0]
	assert.Equal(t, []string{"ffmpeg", "-hide_banner", "-y", "-ss", "20.000", "-t", "10.000", "-i", "final.mp3"}, args[:9])
	assert.NotContains(t, args, "-hwaccel")
}
