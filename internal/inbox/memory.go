package inbox

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests.
type Memory struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{processed: make(map[string]time.Time)}
}

func (m *Memory) IsProcessed(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[taskID]
	return ok, nil
}

func (m *Memory) MarkProcessed(ctx context.Context, taskID string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[taskID]; !ok {
		m.processed[taskID] = processedAt
	}
	return nil
}
