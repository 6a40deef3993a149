package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Store used by tests.
type Memory struct {
	mu        sync.Mutex
	revoked   map[string]domain.RevocationRecord
	listeners []chan domain.RevocationRecord
}

// NewMemory creates an empty in-memory revocation store.
func NewMemory() *Memory {
	return &Memory{revoked: make(map[string]domain.RevocationRecord)}
}

func (m *Memory) Revoke(ctx context.Context, taskID string, opts Options) error {
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	record := domain.RevocationRecord{
		TaskID:    taskID,
		Terminate: opts.Terminate,
		Signal:    opts.Signal,
		RevokedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiry),
	}

	m.mu.Lock()
	m.revoked[taskID] = record
	listeners := append([]chan domain.RevocationRecord(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		select {
		case l <- record:
		default:
		}
	}
	return nil
}

func (m *Memory) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.revoked[taskID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(record.ExpiresAt), nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan domain.RevocationRecord, error) {
	ch := make(chan domain.RevocationRecord, 64)

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
