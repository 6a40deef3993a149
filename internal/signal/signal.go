// Package signal fans out task-completion notifications so a saga
// orchestrator can react to a step's terminal result without polling the
// result backend.
package signal

import (
	"context"
	"sync"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Completion is published once a delivery reaches a terminal result state.
type Completion struct {
	TaskID string
	State  domain.ResultState
	Result []byte
	Error  string
}

// Store is the collaborator the worker publishes to and the saga
// orchestrator subscribes from.
type Store interface {
	Publish(ctx context.Context, c Completion) error
	Subscribe(ctx context.Context) (<-chan Completion, error)
}

// Memory is an in-process Store, fanning out to every live subscriber
// non-blockingly: a slow subscriber drops signals rather than stalling
// publishers.
type Memory struct {
	mu        sync.Mutex
	listeners []chan Completion
}

// NewMemory creates an empty in-memory signal bus.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, c Completion) error {
	m.mu.Lock()
	listeners := append([]chan Completion(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		select {
		case l <- c:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Completion, error) {
	ch := make(chan Completion, 256)

	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, l := range m.listeners {
			if l == ch {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
