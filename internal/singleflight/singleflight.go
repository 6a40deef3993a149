// Package singleflight implements the execution tracker backing the
// PreventOverlapping filter: at most one concurrent
// execution per (taskName, userKey) lock key across all workers.
package singleflight

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// DefaultTimeout matches the partition lock's default.
const DefaultTimeout = 30 * time.Minute

// Tracker is the collaborator the PreventOverlapping filter consults.
type Tracker interface {
	// TryStart succeeds iff no unexpired row exists for lockKey, or the
	// existing row already belongs to taskID (idempotent re-entry on retry).
	TryStart(ctx context.Context, lockKey, taskID string, timeout time.Duration) (bool, error)
	Stop(ctx context.Context, lockKey, taskID string) error
	IsExecuting(ctx context.Context, lockKey string) (bool, error)
	GetExecutingTaskID(ctx context.Context, lockKey string) (string, error)
	Extend(ctx context.Context, lockKey, taskID string, extension time.Duration) (bool, error)
}

// LockKey builds the taskName[":"userKey] composite key.
func LockKey(taskName, userKey string) string {
	if userKey == "" {
		return taskName
	}
	return taskName + ":" + userKey
}

type snapshot = domain.ExecutionTrack
