package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Store used by tests. SequenceNumber is assigned
// as a monotonically increasing counter under lock, matching the
// bigserial column of the Postgres store.
type Memory struct {
	mu       sync.Mutex
	rows     map[string]*domain.OutboxMessage
	sequence uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*domain.OutboxMessage)}
}

func (m *Memory) Save(ctx context.Context, msg *domain.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Status = domain.OutboxPending
	msg.Attempts = 0
	msg.SequenceNumber = m.sequence

	cp := *msg
	m.rows[msg.ID] = &cp
	return nil
}

func (m *Memory) FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []domain.OutboxMessage
	for _, row := range m.rows {
		if row.Status == domain.OutboxPending {
			pending = append(pending, *row)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SequenceNumber < pending[j].SequenceNumber })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *Memory) MarkDispatched(ctx context.Context, id string, dispatchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.Status = domain.OutboxDispatched
	dispatched := dispatchedAt
	row.DispatchedAt = &dispatched
	return nil
}

func (m *Memory) MarkFailedAttempt(ctx context.Context, id string, lastErr string, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.Attempts++
	row.LastError = lastErr
	if row.Attempts >= maxAttempts {
		row.Status = domain.OutboxFailed
		now := time.Now()
		row.DispatchedAt = &now
	}
	return nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, row := range m.rows {
		if row.Status == domain.OutboxDispatched || row.Status == domain.OutboxFailed {
			if row.DispatchedAt != nil && row.DispatchedAt.Before(cutoff) {
				delete(m.rows, id)
				removed++
			}
		}
	}
	return removed, nil
}

// Get is a test accessor returning the current state of one row.
func (m *Memory) Get(id string) (domain.OutboxMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return domain.OutboxMessage{}, false
	}
	return *row, true
}
