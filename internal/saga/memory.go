package saga

import (
	"context"
	"sync"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Store used by tests and the in-memory sample
// pipeline.
type Memory struct {
	mu    sync.Mutex
	sagas map[string]*domain.Saga
}

// NewMemory creates an empty in-memory saga store.
func NewMemory() *Memory {
	return &Memory{sagas: make(map[string]*domain.Saga)}
}

func (m *Memory) Save(ctx context.Context, s *domain.Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Steps = append([]domain.SagaStep(nil), s.Steps...)
	m.sagas[s.ID] = &cp
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Saga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sagas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSaga(s), nil
}

func (m *Memory) FindByTaskID(ctx context.Context, taskID string) (*domain.Saga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sagas {
		for i := range s.Steps {
			if s.Steps[i].ExecuteTaskID == taskID || s.Steps[i].CompensateTaskID == taskID {
				return cloneSaga(s), nil
			}
		}
	}
	return nil, ErrNotFound
}

func cloneSaga(s *domain.Saga) *domain.Saga {
	cp := *s
	cp.Steps = append([]domain.SagaStep(nil), s.Steps...)
	return &cp
}
