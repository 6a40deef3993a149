// Package resultbackend stores and retrieves per-task outcomes. It ships a
// Redis implementation, storing each result as a TTL'd JSON string key named
// after celery's task-meta convention, and an in-memory implementation for
// tests.
package resultbackend

import (
	"context"
	"errors"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// ErrNotFound is returned when no result is stored for a task id.
var ErrNotFound = errors.New("resultbackend: result not found")

// Backend is the collaborator the executor writes outcomes to and clients
// poll for completion.
type Backend interface {
	// Store persists result, overwriting any prior entry for the same
	// TaskID, with backend-defined TTL applied.
	Store(ctx context.Context, result *domain.TaskResult) error

	// Get returns the stored result for taskID, or ErrNotFound.
	Get(ctx context.Context, taskID string) (*domain.TaskResult, error)

	// Delete removes any stored result for taskID.
	Delete(ctx context.Context, taskID string) error
}
