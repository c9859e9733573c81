package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"audioseg/logger"
	"audioseg/pipeline"
	"audioseg/progress"
	"audioseg/tagger"
	"audioseg/task"

	"github.com/spf13/cobra"
)

var (
	processOut    string
	processTitle  string
	processArtist string
	processGenre  string
	processCover  string
)

var processCmd = &cobra.Command{
	Use:   "process <input.wav>",
	Short: "Process a local WAV file",
	Long: `Run the pipeline on a local WAV file and write final.mp3, segments/segment_NNN.mp3
and playlist.m3u8 into the output directory. Progress events go to stdout as NDJSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context(), args[0])
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOut, "out", "o", "out", "output directory")
	processCmd.Flags().StringVar(&processTitle, "title", "", "title tag")
	processCmd.Flags().StringVar(&processArtist, "artist", "", "artist tag")
	processCmd.Flags().StringVar(&processGenre, "genre", "", "genre tag")
	processCmd.Flags().StringVar(&processCover, "cover", "", "cover image file")
	rootCmd.AddCommand(processCmd)
}

// withoutPayload strips audio bytes from the completion event so stdout
// stays readable. The bytes are written to files instead.
func withoutPayload(next progress.Sink) progress.Sink {
	return progress.SinkFunc(func(taskID string, ev progress.Event) {
		if ev.Result != nil {
			res := *ev.Result
			res.FinalAudio.Data = nil
			res.Segments = make([]progress.SegmentOutput, len(ev.Result.Segments))
			for i, seg := range ev.Result.Segments {
				res.Segments[i] = progress.SegmentOutput{Name: seg.Name, Reference: seg.Reference}
			}
			ev.Result = &res
		}
		next.Emit(taskID, ev)
	})
}

func runProcess(parent context.Context, input string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	req := pipeline.Request{
		TaskID: task.NewID(),
		Source: pipeline.Source{
			Data:     data,
			Size:     int64(len(data)),
			Filename: filepath.Base(input),
		},
		Tags: tagger.Tags{Title: processTitle, Artist: processArtist, Genre: processGenre},
	}
	if processCover != "" {
		img, err := os.ReadFile(processCover)
		if err != nil {
			return fmt.Errorf("failed to read cover: %w", err)
		}
		req.Tags.Cover = img
		req.Tags.CoverMIME = mime.TypeByExtension(filepath.Ext(processCover))
	}

	orchestrator, err := pipeline.NewFromConfig(cfg, nil)
	if err != nil {
		return err
	}

	stream := progress.NewStreamSink(os.Stdout)
	tr := progress.NewTracker(req.TaskID, withoutPayload(stream))
	res, runErr := orchestrator.Run(ctx, req, tr)
	if err := stream.Close(); err != nil {
		logger.Warn("Progress output failed", logger.Err(err))
	}
	if runErr != nil {
		return runErr
	}
	return writeOutputs(processOut, res)
}

func writeOutputs(dir string, res *progress.Result) error {
	segDir := filepath.Join(dir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "final.mp3"), res.FinalAudio.Data, 0o644); err != nil {
		return err
	}
	for _, seg := range res.Segments {
		if err := os.WriteFile(filepath.Join(segDir, seg.Name), seg.Data, 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte(res.Playlist), 0o644)
}
