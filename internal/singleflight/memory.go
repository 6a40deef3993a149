package singleflight

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Tracker used by tests.
type Memory struct {
	mu     sync.Mutex
	tracks map[string]snapshot
	now    func() time.Time
}

// NewMemory creates an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{tracks: make(map[string]snapshot), now: time.Now}
}

func (m *Memory) TryStart(ctx context.Context, lockKey, taskID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.tracks[lockKey]
	if ok && !existing.Expired(now) && existing.HolderTaskID != taskID {
		return false, nil
	}

	m.tracks[lockKey] = snapshot{
		LockKey:      lockKey,
		HolderTaskID: taskID,
		StartedAt:    now,
		ExpiresAt:    now.Add(timeout),
	}
	return true, nil
}

func (m *Memory) Stop(ctx context.Context, lockKey, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tracks[lockKey]; ok && existing.HolderTaskID == taskID {
		delete(m.tracks, lockKey)
	}
	return nil
}

func (m *Memory) IsExecuting(ctx context.Context, lockKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tracks[lockKey]
	return ok && !existing.Expired(m.now()), nil
}

func (m *Memory) GetExecutingTaskID(ctx context.Context, lockKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tracks[lockKey]
	if !ok || existing.Expired(m.now()) {
		return "", nil
	}
	return existing.HolderTaskID, nil
}

func (m *Memory) Extend(ctx context.Context, lockKey, taskID string, extension time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tracks[lockKey]
	if !ok || existing.HolderTaskID != taskID {
		return false, nil
	}
	existing.ExpiresAt = existing.ExpiresAt.Add(extension)
	m.tracks[lockKey] = existing
	return true, nil
}
