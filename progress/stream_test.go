package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamSinkWritesNDJSON(t *testing.T) {
	buf := &syncBuffer{}
	sink := NewStreamSink(buf)
	tr := NewTracker("t1", sink)

	tr.Stage("Validating", 5, Details{Type: "validation", Message: "Validating input"})
	tr.Stage("Transcoding", 30, Details{Type: "transcoding"})
	tr.Complete(&Result{Playlist: "#EXTM3U\n"})
	require.NoError(t, sink.Close())

	var types []string
	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		types = append(types, m["type"].(string))
	}
	assert.Equal(t, []string{"progress", "progress", "complete"}, types)
	assert.Equal(t, int64(0), sink.Dropped())

	// Emits after Close are ignored.
	sink.Emit("t1", Event{Type: EventProgress})
}

type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestStreamSinkDropsForSlowConsumer(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	sink := NewStreamSinkWithTimeout(w, 10*time.Millisecond)

	start := time.Now()
	// One line is held by the writer, the buffer fills, then emits time out.
	for i := 0; i < defaultStreamBuffer+5; i++ {
		sink.Emit("t1", Event{Type: EventProgress, Progress: float64(i)})
	}
	assert.Greater(t, sink.Dropped(), int64(0))
	assert.Less(t, time.Since(start), 2*time.Second)

	close(w.release)
	require.NoError(t, sink.Close())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestStreamSinkReportsWriteError(t *testing.T) {
	sink := NewStreamSink(failingWriter{})
	sink.Emit("t1", Event{Type: EventProgress})
	sink.Emit("t1", Event{Type: EventProgress})
	assert.EqualError(t, sink.Close(), "client gone")
}

func TestStreamSinkKeepsTerminalForSlowConsumer(t *testing.T) {
	w := &releasingWriter{release: make(chan struct{})}
	sink := NewStreamSinkWithTimeout(w, 20*time.Millisecond)
	tr := NewTracker("t1", sink)

	tr.Stage("Segmenting", 0, Details{})
	report := tr.Reporter()
	for i := 1; i <= defaultStreamBuffer+2; i++ {
		report(float64(i)*0.5, Details{Type: "segmenting"})
	}
	require.Greater(t, sink.Dropped(), int64(0))

	completed := make(chan struct{})
	go func() {
		tr.Complete(&Result{Playlist: "#EXTM3U\n"})
		close(completed)
	}()
	time.Sleep(50 * time.Millisecond)
	close(w.release)
	<-completed
	require.NoError(t, sink.Close())

	lines := strings.Split(strings.TrimSpace(w.String()), "\n")
	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "complete", last["type"])
	assert.Equal(t, "#EXTM3U\n", last["playlist"])
}

func TestStreamSinkReportsTerminalAfterClose(t *testing.T) {
	buf := &syncBuffer{}
	sink := NewStreamSink(buf)
	sink.Emit("t1", Event{Type: EventProgress})
	require.NoError(t, sink.Close())

	sink.Emit("t1", Event{Type: EventError, Error: "late"})
	assert.ErrorIs(t, sink.Close(), ErrTerminalLost)
	assert.NotContains(t, buf.String(), "late")
}

// releasingWriter blocks every write until released, then records.
type releasingWriter struct {
	release chan struct{}
	buf     syncBuffer
}

func (w *releasingWriter) Write(p []byte) (int, error) {
	<-w.release
	return w.buf.Write(p)
}

func (w *releasingWriter) String() string { return w.buf.String() }
