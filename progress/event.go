package progress

import "encoding/json"

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Details is the stage-specific payload attached to progress events.
type Details struct {
	Type           string  `json:"type"`
	Message        string  `json:"message"`
	Duration       float64 `json:"duration,omitempty"`
	Position       float64 `json:"position,omitempty"`
	CurrentSegment int     `json:"currentSegment,omitempty"`
	TotalSegments  int     `json:"totalSegments,omitempty"`
}

// SegmentOutput carries either the raw segment bytes or an uploaded reference.
type SegmentOutput struct {
	Name      string `json:"name"`
	Data      []byte `json:"data,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type AudioOutput struct {
	Data      []byte `json:"data,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Result is the payload of a successful run.
type Result struct {
	Segments        []SegmentOutput `json:"segments"`
	FinalAudio      AudioOutput     `json:"finalAudio"`
	Playlist        string          `json:"playlist"`
	ImageReference  string          `json:"imageReference,omitempty"`
	Duration        float64         `json:"duration"`
	SegmentDuration int             `json:"segmentDuration"`
}

// References returns the uploaded segment references in index order, or nil
// if any segment was delivered as bytes.
func (r *Result) References() []string {
	refs := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if seg.Reference == "" {
			return nil
		}
		refs = append(refs, seg.Reference)
	}
	return refs
}

// Event is one progress record. It is a value type and never persisted
// beyond a sink's current snapshot.
type Event struct {
	Type     EventType
	Progress float64
	Stage    string
	Details  *Details

	// Set on EventComplete.
	Result *Result

	// Set on EventError. ErrorDetail is optional diagnostic text.
	Error       string
	ErrorDetail string
}

// MarshalJSON renders the wire shape: progress events carry a details object,
// error events carry details as a string, and the completion event inlines
// the result fields.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     EventType   `json:"type"`
		Progress float64     `json:"progress"`
		Stage    string      `json:"stage"`
		Details  interface{} `json:"details,omitempty"`
		Error    string      `json:"error,omitempty"`
		*Result
	}

	w := wire{
		Type:     e.Type,
		Progress: e.Progress,
		Stage:    e.Stage,
		Error:    e.Error,
	}
	switch e.Type {
	case EventError:
		if e.ErrorDetail != "" {
			w.Details = e.ErrorDetail
		}
	default:
		if e.Details != nil {
			w.Details = e.Details
		}
	}
	if e.Type == EventComplete {
		w.Result = e.Result
	}
	return json.Marshal(w)
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Sink consumes events. Implementations must be safe for concurrent use and
// must not block the caller for more than a bounded time.
type Sink interface {
	Emit(taskID string, ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(taskID string, ev Event)

func (f SinkFunc) Emit(taskID string, ev Event) { f(taskID, ev) }
