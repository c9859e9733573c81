package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBudgetScale(t *testing.T) {
	b := Budget{Start: 30, End: 45}
	assert.Equal(t, float64(30), b.Scale(0))
	assert.Equal(t, 37.5, b.Scale(0.5))
	assert.Equal(t, float64(45), b.Scale(1))
	assert.Equal(t, float64(30), b.Scale(-1))
	assert.Equal(t, float64(45), b.Scale(2))
}

func TestTrackerMonotonic(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker("t1", rec)

	tr.Stage("Validating", 5, Details{Type: "validation"})
	report := tr.Reporter()
	report(8, Details{})
	report(6, Details{}) // dropped
	tr.Stage("Downloading", 4, Details{Type: "download"})
	tr.Complete(&Result{})

	events := rec.snapshot()
	require.Len(t, events, 4)
	last := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
	}
	assert.Equal(t, "Validating", events[1].Stage)
	assert.Equal(t, float64(8), events[2].Progress)
	assert.Equal(t, "Downloading", events[2].Stage)
	assert.Equal(t, EventComplete, events[3].Type)
	assert.Equal(t, float64(100), events[3].Progress)
}

func TestTrackerSingleTerminal(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker("t1", rec)

	tr.Stage("Transcoding", 30, Details{})
	tr.Fail("Transcoding failed", "exit 1")
	tr.Complete(&Result{})
	tr.Fail("again", "")
	tr.Stage("Segmenting", 50, Details{})
	tr.Reporter()(60, Details{})

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Equal(t, "Transcoding", events[1].Stage)
	assert.Equal(t, float64(30), events[1].Progress)
	assert.True(t, tr.Done())
	assert.Equal(t, float64(30), tr.Percent())
}

func TestTrackerConcurrentReports(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker("t1", rec)
	tr.Stage("Segmenting", 50, Details{})
	report := tr.Reporter()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report(50+float64(i), Details{})
		}(i)
	}
	wg.Wait()

	last := -1.0
	for _, ev := range rec.snapshot() {
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
	}
}
