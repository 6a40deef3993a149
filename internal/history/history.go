// Package history records one row per finished task attempt, giving
// operators a queryable execution trail that outlives the result backend's
// single latest-state-per-task row.
package history

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Record is one finished attempt of one task id.
type Record struct {
	TaskID      string             `json:"task_id"`
	TaskName    string             `json:"task_name"`
	Queue       string             `json:"queue"`
	State       domain.ResultState `json:"state"`
	Retries     int                `json:"retries"`
	Error       string             `json:"error,omitempty"`
	Duration    time.Duration      `json:"duration,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Store persists attempt records.
type Store interface {
	// Record appends one attempt row.
	Record(ctx context.Context, rec Record) error
	// ListByTaskID returns every recorded attempt for taskID,
	// oldest-first.
	ListByTaskID(ctx context.Context, taskID string) ([]Record, error)
	// Cleanup removes rows completed before olderThan and returns how
	// many were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}
