package task

import (
	"context"
	"sync"
	"time"

	"audioseg/logger"
	"audioseg/progress"
)

const defaultSinkTimeout = 2 * time.Second

// StoreSink is the polling binding: each event overwrites the task's
// snapshot in the store.
type StoreSink struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	mu sync.Mutex
}

func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store, timeout: defaultSinkTimeout, now: time.Now}
}

func (s *StoreSink) Emit(taskID string, ev progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		logger.Warn("Progress event for unknown task dropped",
			logger.String("taskId", taskID),
			logger.Err(err))
		return
	}
	t.apply(ev, s.now())
	if err := s.store.Save(ctx, t); err != nil {
		logger.Warn("Failed to store task progress",
			logger.String("taskId", taskID),
			logger.Err(err))
	}
}
