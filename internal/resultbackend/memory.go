package resultbackend

import (
	"context"
	"sync"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Backend used by tests.
type Memory struct {
	mu      sync.RWMutex
	results map[string]*domain.TaskResult
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{results: make(map[string]*domain.TaskResult)}
}

func (m *Memory) Store(ctx context.Context, result *domain.TaskResult) error {
	cp := *result
	m.mu.Lock()
	m.results[result.TaskID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *result
	return &cp, nil
}

func (m *Memory) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	delete(m.results, taskID)
	m.mu.Unlock()
	return nil
}
