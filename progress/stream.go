package progress

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"audioseg/logger"
)

const (
	defaultStreamBuffer  = 64
	defaultStreamTimeout = 5 * time.Second
)

// ErrTerminalLost is returned by Close when the final event never reached
// the writer.
var ErrTerminalLost = errors.New("terminal progress event was not written")

// StreamSink writes each event as one NDJSON line to an open response.
// Emit hands lines to a writer goroutine so a slow client stalls the
// pipeline for at most the send timeout; after that a progress event is
// dropped. Terminal events are never dropped: they wait for buffer space.
type StreamSink struct {
	w       io.Writer
	flusher http.Flusher
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	lines   chan []byte
	done    chan struct{}
	err     error
	dropped atomic.Int64

	terminalLost atomic.Bool
}

func NewStreamSink(w io.Writer) *StreamSink {
	return NewStreamSinkWithTimeout(w, defaultStreamTimeout)
}

func NewStreamSinkWithTimeout(w io.Writer, timeout time.Duration) *StreamSink {
	s := &StreamSink{
		w:       w,
		timeout: timeout,
		lines:   make(chan []byte, defaultStreamBuffer),
		done:    make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	go s.writeLoop()
	return s
}

func (s *StreamSink) writeLoop() {
	defer close(s.done)
	for line := range s.lines {
		if s.err != nil {
			// Client is gone; keep draining so Emit never blocks.
			continue
		}
		if _, err := s.w.Write(line); err != nil {
			s.err = err
			logger.Warn("Progress stream write failed", logger.Err(err))
			continue
		}
		if s.flusher != nil {
			s.flusher.Flush()
		}
	}
}

func (s *StreamSink) Emit(taskID string, ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to encode progress event", logger.String("taskId", taskID), logger.Err(err))
		if ev.Terminal() {
			s.terminalLost.Store(true)
		}
		return
	}
	line = append(line, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		if ev.Terminal() {
			s.terminalLost.Store(true)
		}
		return
	}

	if ev.Terminal() {
		// No timeout: this line carries the result or the error.
		s.lines <- line
		return
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.lines <- line:
	case <-timer.C:
		s.dropped.Add(1)
		logger.Warn("Dropped progress event for slow stream consumer",
			logger.String("taskId", taskID),
			logger.String("type", string(ev.Type)))
	}
}

// Close flushes pending lines and stops the writer. It returns the first
// write error, or ErrTerminalLost if a terminal event arrived after Close.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.lines)
	}
	s.mu.Unlock()
	<-s.done
	if s.err != nil {
		return s.err
	}
	if s.terminalLost.Load() {
		return ErrTerminalLost
	}
	return nil
}

// Dropped reports how many events were discarded on timeout.
func (s *StreamSink) Dropped() int64 {
	return s.dropped.Load()
}
