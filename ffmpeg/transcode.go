package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"audioseg/logger"
	"audioseg/progress"
)

// Profile is the fixed MP3 output profile.
type Profile struct {
	Bitrate    string
	SampleRate int
	Channels   int
}

func (p Profile) outputArgs() []string {
	return []string{
		"-vn",
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
		"-c:a", "libmp3lame",
		"-b:a", p.Bitrate,
		"-f", "mp3",
	}
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	positionRe = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

func clockSeconds(m []string) float64 {
	h, _ := strconv.ParseFloat(m[1], 64)
	min, _ := strconv.ParseFloat(m[2], 64)
	s, _ := strconv.ParseFloat(m[3], 64)
	return h*3600 + min*60 + s
}

// progressParser tracks the announced duration and current position found
// in ffmpeg's diagnostic stream.
type progressParser struct {
	duration float64
	position float64
}

// feed consumes one stderr line and reports whether position advanced.
func (pp *progressParser) feed(line string) bool {
	if pp.duration == 0 {
		if m := durationRe.FindStringSubmatch(line); m != nil {
			pp.duration = clockSeconds(m)
			return false
		}
	}
	m := positionRe.FindStringSubmatch(line)
	if m == nil || pp.duration <= 0 {
		return false
	}
	pos := clockSeconds(m)
	if pos <= pp.position {
		return false
	}
	pp.position = pos
	return true
}

func (pp *progressParser) fraction() float64 {
	if pp.duration <= 0 {
		return 0
	}
	f := pp.position / pp.duration
	if f > 1 {
		f = 1
	}
	return f
}

// Transcoder converts audio to the configured MP3 profile.
type Transcoder struct {
	bin     string
	runner  ProcessRunner
	profile Profile
	hwArgs  []string
}

func NewTranscoder(bin string, runner ProcessRunner, profile Profile, hwArgs []string) *Transcoder {
	return &Transcoder{bin: bin, runner: runner, profile: profile, hwArgs: hwArgs}
}

func (t *Transcoder) Profile() Profile { return t.profile }

// Transcode converts src into dst, reporting progress within budget. On
// failure dst is removed.
func (t *Transcoder) Transcode(ctx context.Context, src, dst string, budget progress.Budget, report progress.ReportFunc) error {
	err := t.transcode(ctx, src, dst, t.hwArgs, budget, report)
	var exitErr *ExitError
	if err != nil && len(t.hwArgs) > 0 && errors.As(err, &exitErr) && ctx.Err() == nil {
		// Acceleration is best-effort; retry on the software path.
		logger.Warn("Accelerated transcode failed, retrying in software",
			logger.String("src", src),
			logger.Int("exitCode", exitErr.Code))
		err = t.transcode(ctx, src, dst, nil, budget, report)
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func (t *Transcoder) transcode(ctx context.Context, src, dst string, hwArgs []string, budget progress.Budget, report progress.ReportFunc) error {
	args := []string{"-hide_banner", "-y"}
	args = append(args, hwArgs...)
	args = append(args, "-i", src)
	args = append(args, t.profile.outputArgs()...)
	args = append(args, dst)

	var pp progressParser
	onLine := func(stream Stream, line string) {
		if stream != Stderr || !pp.feed(line) {
			return
		}
		report(budget.Scale(pp.fraction()), progress.Details{
			Type:     "transcoding",
			Message:  fmt.Sprintf("Transcoding: %.0f%%", pp.fraction()*100),
			Duration: pp.duration,
			Position: pp.position,
		})
	}

	if _, err := t.runner.Run(ctx, t.bin, args, onLine); err != nil {
		return fmt.Errorf("transcode %s: %w", src, err)
	}
	return nil
}

// Trim encodes the [start, start+length) window of src into dst with the
// same output profile.
func (t *Transcoder) Trim(ctx context.Context, src, dst string, start, length float64) error {
	args := []string{
		"-hide_banner", "-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", src,
	}
	args = append(args, t.profile.outputArgs()...)
	args = append(args, dst)

	if _, err := t.runner.Run(ctx, t.bin, args, nil); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("trim %s at %s: %w", src, formatSeconds(start), err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
