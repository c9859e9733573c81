package ffmpeg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProberDuration(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		want   float64
	}{
		{"normal", `{"format": {"duration": "25.000000"}}`, 25},
		{"not available", `{"format": {"duration": "N/A"}}`, MinDuration},
		{"missing", `{"format": {}}`, MinDuration},
		{"degenerate", `{"format": {"duration": "0.001"}}`, MinDuration},
		{"garbage", `not json`, MinDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{runFunc: func(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
				return &Result{Stdout: tc.stdout}, nil
			}}
			d, err := NewProber("ffprobe", runner).Duration(context.Background(), "in.mp3")
			require.NoError(t, err)
			assert.InDelta(t, tc.want, d, 1e-9)

			calls := runner.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "ffprobe", calls[0][0])
			assert.Equal(t, "in.mp3", calls[0][len(calls[0])-1])
		})
	}
}

func TestProberDurationProcessFailure(t *testing.T) {
	runner := &fakeRunner{runFunc: func(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
		return nil, &ExitError{Program: program, Code: 1, Output: "Invalid data"}
	}}
	_, err := NewProber("ffprobe", runner).Duration(context.Background(), "in.mp3")
	var exitErr *ExitError
	assert.True(t, errors.As(err, &exitErr))
}
