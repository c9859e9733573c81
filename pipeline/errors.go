package pipeline

import (
	"context"
	"errors"
	"fmt"

	"audioseg/ffmpeg"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindResource      Kind = "resource"
	KindDownload      Kind = "download"
	KindDurationProbe Kind = "duration_probe"
	KindTranscode     Kind = "transcode"
	KindTagWrite      Kind = "tag_write"
	KindSegmentation  Kind = "segmentation"
	KindPlaylist      Kind = "playlist"
	KindUpload        Kind = "upload"
	KindCanceled      Kind = "canceled"
	KindCleanup       Kind = "cleanup"
)

// Error is the uniform failure surfaced by the orchestrator. Message is the
// only caller-facing text; Detail carries diagnostic output.
type Error struct {
	Kind    Kind
	Index   int // failing segment for KindSegmentation, -1 otherwise
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may resubmit the same input.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindDownload, KindResource, KindUpload, KindCanceled:
		return true
	}
	return false
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Index:   -1,
		Message: message,
		Detail:  ffmpeg.OutputTail(err, 20),
		Err:     err,
	}
}

// phaseError maps a phase failure into the taxonomy. Context cancellation
// wins over the phase kind because the phase only failed as a consequence.
func phaseError(ctx context.Context, kind Kind, message string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCanceled, "Processing was canceled or timed out", err)
	}
	e := newError(kind, message, err)
	var segErr *ffmpeg.SegmentError
	if kind == KindSegmentation && errors.As(err, &segErr) {
		e.Index = segErr.Index
		e.Message = fmt.Sprintf("%s (segment %d)", message, segErr.Index)
	}
	return e
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Index: -1, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a pipeline error from err.
func AsError(err error) (*Error, bool) {
	var perr *Error
	ok := errors.As(err, &perr)
	return perr, ok
}
