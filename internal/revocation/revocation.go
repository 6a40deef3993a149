// Package revocation implements the revocation store and subscription
// stream the executor consults before running a task and workers use to
// cooperatively cancel in-flight handlers.
package revocation

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Options configures a revocation.
type Options struct {
	Terminate bool
	Signal    string
	Expiry    time.Duration
}

// Store is the collaborator the executor and the worker's cancellation
// watcher consult.
type Store interface {
	Revoke(ctx context.Context, taskID string, opts Options) error
	IsRevoked(ctx context.Context, taskID string) (bool, error)
	// Subscribe yields revocation events as they are published; callers
	// must drain or cancel ctx to release resources.
	Subscribe(ctx context.Context) (<-chan domain.RevocationRecord, error)
}
