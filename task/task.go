package task

import (
	"time"

	"audioseg/progress"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the pollable snapshot of one pipeline run. Only the latest event
// is reflected; no history is kept.
type Task struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Stage       string            `json:"stage"`
	Percent     float64           `json:"percent"`
	Details     *progress.Details `json:"details,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorDetail string            `json:"errorDetails,omitempty"`
	Result      *progress.Result  `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`

	// Set by the HTTP layer when segment references are available.
	ResolvedPlaylist string `json:"resolvedPlaylist,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	return &c
}

// apply folds one event into the snapshot.
func (t *Task) apply(ev progress.Event, now time.Time) {
	t.Stage = ev.Stage
	t.UpdatedAt = now
	if ev.Progress > t.Percent {
		t.Percent = ev.Progress
	}
	switch ev.Type {
	case progress.EventProgress:
		t.Status = StatusRunning
		t.Details = ev.Details
	case progress.EventComplete:
		t.Status = StatusCompleted
		t.Details = ev.Details
		t.Result = ev.Result
		t.CompletedAt = &now
	case progress.EventError:
		t.Status = StatusFailed
		t.Error = ev.Error
		t.ErrorDetail = ev.ErrorDetail
		t.CompletedAt = &now
	}
}
