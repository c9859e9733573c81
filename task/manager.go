package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"audioseg/config"
	"audioseg/logger"
	"audioseg/pipeline"
	"audioseg/progress"

	"github.com/lithammer/shortuuid/v4"
)

var ErrQueueFull = errors.New("task queue is full")

const canceledInQueue = "Canceled by user while in queue"

// Pipeline runs one request and reports through the tracker. It emits
// exactly one terminal event.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request, tr *progress.Tracker) (*progress.Result, error)
}

type job struct {
	id  string
	req pipeline.Request
}

// Manager runs submitted requests in the background, bounded by
// MAX_CONCURRENCY, and publishes their progress to the store.
type Manager struct {
	cfg            *config.Config
	store          Store
	sink           progress.Sink
	pipeline       Pipeline
	taskQueue      chan job
	concurrencySem chan struct{}

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	canceled map[string]bool
	now      func() time.Time
}

func NewManager(cfg *config.Config, store Store, p Pipeline) (*Manager, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be at least 1")
	}
	return &Manager{
		cfg:            cfg,
		store:          store,
		sink:           NewStoreSink(store),
		pipeline:       p,
		taskQueue:      make(chan job, 100),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		cancels:        make(map[string]context.CancelFunc),
		canceled:       make(map[string]bool),
		now:            time.Now,
	}, nil
}

// NewID returns a fresh task identifier.
func NewID() string {
	return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
}

func (m *Manager) Start(ctx context.Context) {
	logger.Info("Task manager started", logger.Int("concurrency", m.cfg.MaxConcurrency))
	if m.cfg.TaskRetention > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker loop shutting down")
			return
		case j := <-m.taskQueue:
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(j job) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, j)
			}(j)
		}
	}
}

func (m *Manager) processTask(parentCtx context.Context, j job) {
	taskCtx, cancel := context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	defer cancel()

	m.mu.Lock()
	if m.canceled[j.id] {
		delete(m.canceled, j.id)
		m.mu.Unlock()
		logger.Info("Task was canceled before processing", logger.String("taskId", j.id))
		return
	}
	m.cancels[j.id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, j.id)
		m.mu.Unlock()
	}()

	logger.Info("Processing task", logger.String("taskId", j.id))
	tr := progress.NewTracker(j.id, m.sink)
	if _, err := m.pipeline.Run(taskCtx, j.req, tr); err != nil {
		logger.Warn("Task failed", logger.String("taskId", j.id), logger.Err(err))
		return
	}
	logger.Info("Task completed successfully", logger.String("taskId", j.id))
}

// cleanupLoop periodically removes terminal tasks older than the retention.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TaskRetention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup loop shutting down")
			return
		case <-ticker.C:
			m.purgeExpired(ctx)
		}
	}
}

func (m *Manager) purgeExpired(ctx context.Context) {
	tasks, err := m.store.List(ctx)
	if err != nil {
		logger.Warn("Failed to list tasks for cleanup", logger.Err(err))
		return
	}
	cutoff := m.now().Add(-m.cfg.TaskRetention)
	for _, t := range tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, t.ID); err != nil {
			logger.Warn("Failed to delete expired task", logger.String("taskId", t.ID), logger.Err(err))
			continue
		}
		logger.Debug("Expired task removed", logger.String("taskId", t.ID))
	}
}

// Submit records a pending task and queues req for processing.
func (m *Manager) Submit(ctx context.Context, req pipeline.Request) (*Task, error) {
	now := m.now()
	t := &Task{
		ID:        NewID(),
		Status:    StatusPending,
		Stage:     pipeline.StageInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.TaskID = t.ID

	if err := m.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}
	select {
	case m.taskQueue <- job{id: t.ID, req: req}:
	default:
		t.Status = StatusFailed
		t.Error = ErrQueueFull.Error()
		t.CompletedAt = &now
		_ = m.store.Save(ctx, t)
		return nil, ErrQueueFull
	}
	logger.Info("Task submitted to queue", logger.String("taskId", t.ID))
	return t, nil
}

func (m *Manager) Get(ctx context.Context, taskID string) (*Task, error) {
	return m.store.Get(ctx, taskID)
}

func (m *Manager) List(ctx context.Context) ([]*Task, error) {
	return m.store.List(ctx)
}

// Cancel stops a pending or running task. A running task reaches the failed
// state through the pipeline's own terminal event.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	t, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cancel, running := m.cancels[taskID]
	if !running && t.Status == StatusPending {
		m.canceled[taskID] = true
	}
	m.mu.Unlock()

	switch {
	case t.Status.Terminal():
		return fmt.Errorf("cannot cancel task in state: %s", t.Status)
	case running:
		cancel()
		logger.Info("Cancellation signal sent to running task", logger.String("taskId", taskID))
	case t.Status == StatusPending:
		now := m.now()
		t.Status = StatusFailed
		t.Error = canceledInQueue
		t.UpdatedAt = now
		t.CompletedAt = &now
		if err := m.store.Save(ctx, t); err != nil {
			return err
		}
		logger.Info("Task marked as canceled in queue", logger.String("taskId", taskID))
	default:
		return fmt.Errorf("task %s is running but has no cancellation handle", taskID)
	}
	return nil
}
