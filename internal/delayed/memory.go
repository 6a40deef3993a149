package delayed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Store used by tests.
type Memory struct {
	mu   sync.Mutex
	rows map[string]DelayedMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]DelayedMessage)}
}

func (m *Memory) Insert(ctx context.Context, msg domain.TaskMessage, deliveryTime time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := domain.NewID()
	m.rows[id] = DelayedMessage{ID: id, TaskMessage: msg, DeliveryTime: deliveryTime}
	return id, nil
}

func (m *Memory) FetchDue(ctx context.Context, now time.Time, limit int) ([]DelayedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []DelayedMessage
	for _, row := range m.rows {
		if !row.DeliveryTime.After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DeliveryTime.Before(due[j].DeliveryTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, row := range due {
		delete(m.rows, row.ID)
	}
	return due, nil
}

func (m *Memory) NextDeliveryTime(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var earliest time.Time
	found := false
	for _, row := range m.rows {
		if !found || row.DeliveryTime.Before(earliest) {
			earliest = row.DeliveryTime
			found = true
		}
	}
	return earliest, found, nil
}

func (m *Memory) Reinsert(ctx context.Context, msg DelayedMessage, deliveryTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.DeliveryTime = deliveryTime
	m.rows[msg.ID] = msg
	return nil
}

// Len is a test accessor reporting pending row count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
