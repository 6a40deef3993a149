package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Limiter used by tests, implementing the sliding
// window over an ordered timestamp slice pruned on every call.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory limiter.
func NewMemory() *Memory {
	return &Memory{windows: make(map[string][]time.Time), now: time.Now}
}

func (m *Memory) TryAcquire(ctx context.Context, resourceKey string, policy Policy) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-policy.Window)

	timestamps := m.windows[resourceKey]
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) < policy.Limit {
		pruned = append(pruned, now)
		m.windows[resourceKey] = pruned
		return Lease{
			Acquired:  true,
			Remaining: policy.Limit - len(pruned),
			ResetAt:   now.Add(policy.Window),
		}, nil
	}

	m.windows[resourceKey] = pruned
	oldest := pruned[0]
	resetAt := oldest.Add(policy.Window)
	retryAfter := resetAt.Sub(now)
	if retryAfter < MinRetryAfter {
		retryAfter = MinRetryAfter
	}

	return Lease{
		Acquired:   false,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
