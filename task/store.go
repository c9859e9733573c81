package task

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("task not found")

// Store is the shared task table behind the polling binding.
type Store interface {
	Save(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps snapshots in process memory. Values are copied in and
// out so callers never share a snapshot with the writer.
type MemoryStore struct {
	tasks sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, t *Task) error {
	s.tasks.Store(t.ID, t.clone())
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	if val, ok := s.tasks.Load(id); ok {
		return val.(*Task).clone(), nil
	}
	return nil, ErrNotFound
}

// List returns tasks newest first.
func (s *MemoryStore) List(_ context.Context) ([]*Task, error) {
	var taskList []*Task
	s.tasks.Range(func(key, value interface{}) bool {
		taskList = append(taskList, value.(*Task).clone())
		return true
	})
	sort.Slice(taskList, func(i, j int) bool {
		return taskList[i].CreatedAt.After(taskList[j].CreatedAt)
	})
	return taskList, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.tasks.Delete(id)
	return nil
}
