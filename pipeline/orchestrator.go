package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path"
	"sync/atomic"
	"time"

	"audioseg/config"
	"audioseg/ffmpeg"
	"audioseg/logger"
	"audioseg/parallel"
	"audioseg/playlist"
	"audioseg/progress"
	"audioseg/tagger"
)

// Stage labels, in the order the orchestrator walks them.
const (
	StageInit            = "Init"
	StageValidating      = "Validating"
	StageDownloading     = "Downloading"
	StageProbingDuration = "ProbingDuration"
	StageTranscoding     = "Transcoding"
	StageTagging         = "Tagging"
	StageSegmenting      = "Segmenting"
	StagePreparing       = "Preparing"
	StageFinalizing      = "Finalizing"
)

// Schedule is the global percent plan. Each phase only sees its own budget.
type Schedule struct {
	Init            float64
	Validating      float64
	Downloading     float64
	ProbingDuration float64
	Transcoding     progress.Budget
	Tagging         float64
	Segmenting      progress.Budget
	Preparing       progress.Budget
	Finalizing      float64
}

var DefaultSchedule = Schedule{
	Init:            0,
	Validating:      5,
	Downloading:     10,
	ProbingDuration: 20,
	Transcoding:     progress.Budget{Start: 30, End: 45},
	Tagging:         47,
	Segmenting:      progress.Budget{Start: 50, End: 70},
	Preparing:       progress.Budget{Start: 75, End: 90},
	Finalizing:      95,
}

// Request is one pipeline run.
type Request struct {
	TaskID string
	Source Source
	Tags   tagger.Tags
}

type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, src, dst string, budget progress.Budget, report progress.ReportFunc) error
}

type Tagger interface {
	Write(path string, tags tagger.Tags) error
}

type Segmenter interface {
	Split(ctx context.Context, src, outDir string, budget progress.Budget, report progress.ReportFunc) ([]ffmpeg.Segment, error)
	Length() int
}

// ObjectStorage is the boundary to the object store. Download wraps
// storage.ErrTooLarge for objects over limit. Upload returns the reference
// the caller later substitutes into the playlist.
type ObjectStorage interface {
	Download(ctx context.Context, ref string, limit int64) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type ResourceChecker interface {
	Check() error
}

// Settings are the bounds and limits the orchestrator enforces.
type Settings struct {
	MaxDuration            float64 // seconds
	MaxInputSize           int64
	AllowedMimeTypes       []string
	MaterializeConcurrency int
	WorkDir                string
	Timeout                time.Duration // whole-run deadline, zero for none
}

// Deps are the phase implementations. Storage and Resources may be nil.
type Deps struct {
	Prober     DurationProber
	Transcoder Transcoder
	Tagger     Tagger
	Segmenter  Segmenter
	Storage    ObjectStorage
	Resources  ResourceChecker
	HTTPClient *http.Client
}

// Orchestrator sequences the phases of one task and owns its working area.
type Orchestrator struct {
	settings   Settings
	schedule   Schedule
	prober     DurationProber
	transcoder Transcoder
	tagger     Tagger
	segmenter  Segmenter
	storage    ObjectStorage
	resources  ResourceChecker
	httpClient *http.Client
}

func New(settings Settings, deps Deps) *Orchestrator {
	if settings.MaterializeConcurrency < 1 {
		settings.MaterializeConcurrency = 1
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Orchestrator{
		settings:   settings,
		schedule:   DefaultSchedule,
		prober:     deps.Prober,
		transcoder: deps.Transcoder,
		tagger:     deps.Tagger,
		segmenter:  deps.Segmenter,
		storage:    deps.Storage,
		resources:  deps.Resources,
		httpClient: client,
	}
}

// NewFromConfig wires the ffmpeg-backed phases. storage may be nil.
func NewFromConfig(cfg *config.Config, storage ObjectStorage) (*Orchestrator, error) {
	for _, bin := range []string{cfg.FFBin, cfg.FFProbeBin} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("binary not found or not in PATH: %s", bin)
		}
	}
	hwArgs, err := ffmpeg.ParseHWAccelArgs(cfg.HWAccel, cfg.HWAccelArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid HWACCEL_ARGS: %w", err)
	}

	runner := ffmpeg.NewExecRunner()
	prober := ffmpeg.NewProber(cfg.FFProbeBin, runner)
	transcoder := ffmpeg.NewTranscoder(cfg.FFBin, runner, ffmpeg.Profile{
		Bitrate:    cfg.AudioBitrate,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}, hwArgs)

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	o := New(Settings{
		MaxDuration:            cfg.MaxDuration.Seconds(),
		MaxInputSize:           cfg.MaxInputSize,
		AllowedMimeTypes:       cfg.AllowedMimeTypes,
		MaterializeConcurrency: cfg.MaterializeConcurrency,
		WorkDir:                workDir,
		Timeout:                cfg.FFTimeout,
	}, Deps{
		Prober:     prober,
		Transcoder: transcoder,
		Tagger:     tagger.New(cfg.TagComment),
		Segmenter:  ffmpeg.NewSegmenter(prober, transcoder, cfg.SegmentSeconds, cfg.SegmentConcurrency),
		Storage:    storage,
		Resources: &ffmpeg.ResourceGuard{
			IdleCPU:  cfg.ThrottleCPU,
			FreeMem:  cfg.ThrottleFreeMem,
			FreeDisk: cfg.ThrottleFreeDisk,
			Dir:      workDir,
		},
		HTTPClient: &http.Client{Timeout: cfg.FFTimeout},
	})
	return o, nil
}

// Run executes the whole pipeline for req, reporting through tr, within
// Settings.Timeout. Exactly one terminal event is emitted, and the working
// area is removed before Run returns regardless of outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request, tr *progress.Tracker) (*progress.Result, error) {
	started := time.Now()
	if o.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.Timeout)
		defer cancel()
	}
	tr.Stage(StageInit, o.schedule.Init, progress.Details{Type: "init", Message: "Preparing working area"})

	area, err := NewWorkingArea(o.settings.WorkDir, req.TaskID)
	if err != nil {
		perr := newError(KindResource, "Could not allocate a working area", err)
		o.fail(tr, req.TaskID, perr)
		return nil, perr
	}
	defer func() {
		if cerr := area.Cleanup(); cerr != nil {
			logger.Error("Working area cleanup failed",
				logger.String("taskId", req.TaskID),
				logger.String("dir", area.Root),
				logger.Err(cerr))
		}
	}()

	res, perr := o.run(ctx, req, area, tr)
	if perr != nil {
		o.fail(tr, req.TaskID, perr)
		return nil, perr
	}

	tr.Complete(res)
	logger.Info("Pipeline completed",
		logger.String("taskId", req.TaskID),
		logger.Int("segments", len(res.Segments)),
		logger.Duration("elapsed", time.Since(started)))
	return res, nil
}

func (o *Orchestrator) fail(tr *progress.Tracker, taskID string, perr *Error) {
	logger.Error("Pipeline failed",
		logger.String("taskId", taskID),
		logger.String("kind", string(perr.Kind)),
		logger.Int("segment", perr.Index),
		logger.Err(perr))
	tr.Fail(perr.Message, perr.Detail)
}

func (o *Orchestrator) run(ctx context.Context, req Request, area *WorkingArea, tr *progress.Tracker) (*progress.Result, *Error) {
	report := tr.Reporter()

	// Validating
	tr.Stage(StageValidating, o.schedule.Validating, progress.Details{Type: "validating", Message: "Validating input"})
	if perr := o.validateSource(req.Source); perr != nil {
		return nil, perr
	}
	if o.resources != nil {
		if err := o.resources.Check(); err != nil {
			return nil, newError(KindResource, "The server is busy, try again later", err)
		}
	}

	// Downloading
	tr.Stage(StageDownloading, o.schedule.Downloading, progress.Details{Type: "downloading", Message: "Fetching source audio"})
	size, perr := o.acquire(ctx, req.Source, area.SourcePath)
	if perr != nil {
		return nil, perr
	}
	logger.Debug("Source acquired", logger.String("taskId", req.TaskID), logger.Int64("bytes", size))

	// ProbingDuration
	tr.Stage(StageProbingDuration, o.schedule.ProbingDuration, progress.Details{Type: "probing", Message: "Reading audio duration"})
	duration, err := o.prober.Duration(ctx, area.SourcePath)
	if err != nil {
		return nil, phaseError(ctx, KindDurationProbe, "Could not read the audio duration", err)
	}
	if duration > o.settings.MaxDuration {
		return nil, validationError("Audio is %.0f seconds long; the limit is %.0f seconds", duration, o.settings.MaxDuration)
	}

	// Transcoding
	tr.Stage(StageTranscoding, o.schedule.Transcoding.Start, progress.Details{
		Type: "transcoding", Message: "Converting to MP3", Duration: duration,
	})
	if err := o.transcoder.Transcode(ctx, area.SourcePath, area.TranscodedPath, o.schedule.Transcoding, report); err != nil {
		return nil, phaseError(ctx, KindTranscode, "Audio conversion failed", err)
	}

	// Tagging
	if req.Tags.Empty() {
		tr.Stage(StageTagging, o.schedule.Tagging, progress.Details{Type: "tagging", Message: "No metadata supplied, skipping tags"})
	} else {
		tr.Stage(StageTagging, o.schedule.Tagging, progress.Details{Type: "tagging", Message: "Writing metadata"})
		if err := o.tagger.Write(area.TranscodedPath, req.Tags); err != nil {
			// Tags are best-effort: continue without them.
			logger.Warn("Tag write failed, continuing without tags",
				logger.String("taskId", req.TaskID),
				logger.String("kind", string(KindTagWrite)),
				logger.Err(err))
		}
	}

	// Segmenting
	tr.Stage(StageSegmenting, o.schedule.Segmenting.Start, progress.Details{Type: "segmenting", Message: "Creating segments"})
	segments, err := o.segmenter.Split(ctx, area.TranscodedPath, area.SegmentsDir, o.schedule.Segmenting, report)
	if err != nil {
		return nil, phaseError(ctx, KindSegmentation, "Segment creation failed", err)
	}

	// Preparing
	tr.Stage(StagePreparing, o.schedule.Preparing.Start, progress.Details{
		Type: "preparing", Message: "Preparing segments", TotalSegments: len(segments),
	})
	indices := make([]int, len(segments))
	for i, seg := range segments {
		indices[i] = seg.Index
	}
	pl, err := playlist.Build(indices, o.segmenter.Length())
	if err != nil {
		return nil, newError(KindPlaylist, "Playlist generation failed", err)
	}
	segments, err = o.materialize(ctx, segments, report)
	if err != nil {
		return nil, phaseError(ctx, KindSegmentation, "Reading segments failed", err)
	}

	// Finalizing
	tr.Stage(StageFinalizing, o.schedule.Finalizing, progress.Details{Type: "finalizing", Message: "Finalizing output"})
	finalAudio, err := os.ReadFile(area.TranscodedPath)
	if err != nil {
		return nil, newError(KindTranscode, "Transcoded audio is unreadable", err)
	}

	res := &progress.Result{
		Segments:        make([]progress.SegmentOutput, len(segments)),
		FinalAudio:      progress.AudioOutput{Data: finalAudio},
		Playlist:        pl.String(),
		Duration:        duration,
		SegmentDuration: o.segmenter.Length(),
	}
	for i, seg := range segments {
		res.Segments[i] = progress.SegmentOutput{Name: seg.Name, Data: seg.Data}
	}

	if o.storage != nil {
		if perr := o.upload(ctx, req, res); perr != nil {
			return nil, perr
		}
	}
	return res, nil
}

// materialize reads segment files with bounded fan-out, keeping index order.
func (o *Orchestrator) materialize(ctx context.Context, segments []ffmpeg.Segment, report progress.ReportFunc) ([]ffmpeg.Segment, error) {
	total := len(segments)
	budget := o.schedule.Preparing
	var done atomic.Int64
	return parallel.Map(ctx, segments, o.settings.MaterializeConcurrency, func(ctx context.Context, i int, seg ffmpeg.Segment) (ffmpeg.Segment, error) {
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			return ffmpeg.Segment{}, &ffmpeg.SegmentError{Index: seg.Index, Err: err}
		}
		if len(data) == 0 {
			return ffmpeg.Segment{}, &ffmpeg.SegmentError{Index: seg.Index, Err: fmt.Errorf("%s is empty", seg.Name)}
		}
		seg.Data = data
		n := int(done.Add(1))
		report(budget.Scale(float64(n)/float64(total)), progress.Details{
			Type:           "preparing",
			Message:        fmt.Sprintf("Prepared segment %d of %d", n, total),
			CurrentSegment: n,
			TotalSegments:  total,
		})
		return seg, nil
	})
}

// upload pushes the outputs to object storage and swaps bytes for references.
func (o *Orchestrator) upload(ctx context.Context, req Request, res *progress.Result) *Error {
	prefix := path.Join("tracks", req.TaskID)

	ref, err := o.storage.Upload(ctx, path.Join(prefix, "final.mp3"), res.FinalAudio.Data, "audio/mpeg")
	if err != nil {
		return phaseError(ctx, KindUpload, "Uploading the final audio failed", err)
	}
	res.FinalAudio = progress.AudioOutput{Reference: ref}

	refs, err := parallel.Map(ctx, res.Segments, o.settings.MaterializeConcurrency, func(ctx context.Context, i int, seg progress.SegmentOutput) (string, error) {
		return o.storage.Upload(ctx, path.Join(prefix, "segments", seg.Name), seg.Data, "audio/mpeg")
	})
	if err != nil {
		return phaseError(ctx, KindUpload, "Uploading segments failed", err)
	}
	for i := range res.Segments {
		res.Segments[i].Data = nil
		res.Segments[i].Reference = refs[i]
	}

	if len(req.Tags.Cover) > 0 {
		name := "cover" + coverExt(req.Tags.CoverMIME)
		ref, err := o.storage.Upload(ctx, path.Join(prefix, name), req.Tags.Cover, req.Tags.CoverMIME)
		if err != nil {
			return phaseError(ctx, KindUpload, "Uploading the cover image failed", err)
		}
		res.ImageReference = ref
	}
	return nil
}

func coverExt(mimeType string) string {
	switch normalizeMime(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".jpg"
}
