// Package partition implements the exclusive, auto-expiring per-key lock
// gating serialized execution across a partitionKey. Auto-expiry is
// mandatory: a crashed holder must not block its partition past the lock
// timeout.
package partition

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Lock is the collaborator the PartitionedExecutionFilter acquires/releases.
type Lock interface {
	// TryAcquire returns true iff key had no unexpired holder, or the
	// current holder already equals holderID (idempotent re-entry).
	TryAcquire(ctx context.Context, key, holderID string, timeout time.Duration) (bool, error)
	// Release is a CAS on holder: a non-holder release is a no-op
	// returning false.
	Release(ctx context.Context, key, holderID string) (bool, error)
	// Extend is a CAS on holder, adding extension to the current expiry.
	Extend(ctx context.Context, key, holderID string, extension time.Duration) (bool, error)
	IsLocked(ctx context.Context, key string) (bool, error)
	GetHolder(ctx context.Context, key string) (string, error)
}

// DefaultLockTimeout is applied when a filter or caller passes timeout<=0.
const DefaultLockTimeout = 30 * time.Minute

// snapshot is the value representation a Lock implementation stores,
// independent of backing store.
type snapshot = domain.PartitionLock
