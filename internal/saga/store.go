package saga

import (
	"context"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Store persists Saga records and supports the lookup the completion
// handler needs to map an incoming task id back to its owning saga.
type Store interface {
	Save(ctx context.Context, s *domain.Saga) error
	Get(ctx context.Context, id string) (*domain.Saga, error)
	// FindByTaskID returns the saga owning taskID as either an execute or
	// compensate step's dispatched task, for restoring a saga not held in
	// the orchestrator's in-process active set (e.g. after a restart).
	FindByTaskID(ctx context.Context, taskID string) (*domain.Saga, error)
}
