package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// WorkingArea is the scratch directory owned by exactly one task.
type WorkingArea struct {
	Root           string
	SourcePath     string
	TranscodedPath string
	SegmentsDir    string
}

// NewWorkingArea creates a fresh directory under parent (the OS temp dir if
// empty) with a segments subdirectory.
func NewWorkingArea(parent, taskID string) (*WorkingArea, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir %s: %w", parent, err)
		}
	}
	root, err := os.MkdirTemp(parent, "audioseg_"+unsafeIDChars.ReplaceAllString(taskID, "")+"_")
	if err != nil {
		return nil, fmt.Errorf("create working area: %w", err)
	}
	w := &WorkingArea{
		Root:           root,
		SourcePath:     filepath.Join(root, "source.wav"),
		TranscodedPath: filepath.Join(root, "final.mp3"),
		SegmentsDir:    filepath.Join(root, "segments"),
	}
	if err := os.Mkdir(w.SegmentsDir, 0o755); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("create segments dir: %w", err)
	}
	return w, nil
}

// Cleanup removes the whole area.
func (w *WorkingArea) Cleanup() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return &Error{Kind: KindCleanup, Index: -1, Message: "failed to remove working area", Err: err}
	}
	return nil
}
