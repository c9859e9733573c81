package task

import (
	"context"
	"testing"

	"audioseg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSink_TracksLatestEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &Task{ID: "t1", Status: StatusPending}))

	tr := progress.NewTracker("t1", NewStoreSink(store))

	tr.Stage("Validating", 5, progress.Details{Type: "validation", Message: "Validating input"})
	got, _ := store.Get(ctx, "t1")
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "Validating", got.Stage)
	assert.Equal(t, float64(5), got.Percent)
	require.NotNil(t, got.Details)
	assert.Equal(t, "Validating input", got.Details.Message)

	tr.Stage("Transcoding", 30, progress.Details{Type: "transcoding"})
	tr.Fail("Transcoding failed", "boom")

	got, _ = store.Get(ctx, "t1")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "Transcoding", got.Stage)
	assert.Equal(t, float64(30), got.Percent)
	assert.Equal(t, "Transcoding failed", got.Error)
	assert.Equal(t, "boom", got.ErrorDetail)
	assert.NotNil(t, got.CompletedAt)
}

func TestStoreSink_Complete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &Task{ID: "t1"}))

	tr := progress.NewTracker("t1", NewStoreSink(store))
	tr.Complete(&progress.Result{Playlist: "#EXTM3U\n"})

	got, _ := store.Get(ctx, "t1")
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Percent)
	require.NotNil(t, got.Result)
	assert.Equal(t, "#EXTM3U\n", got.Result.Playlist)
}

func TestStoreSink_UnknownTaskIgnored(t *testing.T) {
	store := NewMemoryStore()
	NewStoreSink(store).Emit("missing", progress.Event{Type: progress.EventProgress, Stage: "Init"})

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
