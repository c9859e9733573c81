package task

import (
	"encoding/json"
	"testing"
	"time"

	"audioseg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskJSONCompletedAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusPending, CreatedAt: now}

	task.apply(progress.Event{Type: progress.EventProgress, Progress: 5, Stage: "Validating"}, now)
	b, err := json.Marshal(task)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "completedAt")

	task.apply(progress.Event{Type: progress.EventError, Progress: 5, Stage: "Validating", Error: "bad input"}, now)
	b, err = json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"completedAt":"2025-01-01T12:00:00Z"`)
}

func TestTaskCloneCopiesCompletedAt(t *testing.T) {
	now := time.Now()
	orig := &Task{ID: "t1", CompletedAt: &now}
	c := orig.clone()
	later := now.Add(time.Hour)
	*c.CompletedAt = later
	assert.Equal(t, now, *orig.CompletedAt)
}
