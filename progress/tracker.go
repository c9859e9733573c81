package progress

import "sync"

// Tracker owns the event sequence of one task. It keeps percent
// non-decreasing, serializes emission, and goes silent after a terminal event.
type Tracker struct {
	taskID string
	sink   Sink

	mu    sync.Mutex
	last  float64
	stage string
	done  bool
}

func NewTracker(taskID string, sink Sink) *Tracker {
	return &Tracker{taskID: taskID, sink: sink}
}

func (t *Tracker) TaskID() string { return t.taskID }

// Stage emits the transition event into a new stage. A percent lower than
// the last emitted one is raised to it.
func (t *Tracker) Stage(stage string, percent float64, details Details) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if percent < t.last {
		percent = t.last
	}
	t.last = percent
	t.stage = stage
	d := details
	t.sink.Emit(t.taskID, Event{Type: EventProgress, Progress: percent, Stage: stage, Details: &d})
}

// Reporter returns a ReportFunc for mid-phase updates of the current stage.
// Reports that would move percent backwards are dropped; they happen when
// concurrent workers finish out of order.
func (t *Tracker) Reporter() ReportFunc {
	return func(percent float64, details Details) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.done || percent < t.last {
			return
		}
		t.last = percent
		d := details
		t.sink.Emit(t.taskID, Event{Type: EventProgress, Progress: percent, Stage: t.stage, Details: &d})
	}
}

// Complete emits the terminal success event at 100%.
func (t *Tracker) Complete(res *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.last = 100
	t.stage = "Completed"
	t.sink.Emit(t.taskID, Event{
		Type:     EventComplete,
		Progress: 100,
		Stage:    t.stage,
		Details:  &Details{Type: "complete", Message: "Processing complete"},
		Result:   res,
	})
}

// Fail emits the terminal error event. message is caller-facing, detail is
// optional diagnostic output.
func (t *Tracker) Fail(message, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.sink.Emit(t.taskID, Event{
		Type:        EventError,
		Progress:    t.last,
		Stage:       t.stage,
		Error:       message,
		ErrorDetail: detail,
	})
}

func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
