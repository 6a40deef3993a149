package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// OutboxStatus is the lifecycle state of one outbox row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxDispatched OutboxStatus = "DISPATCHED"
	OutboxFailed     OutboxStatus = "FAILED"
)

// OutboxMessage is a durable write-ahead row guaranteeing eventual,
// ordered delivery of a TaskMessage written inside a business transaction.
type OutboxMessage struct {
	ID             string       `json:"id"`
	TaskMessage    TaskMessage  `json:"task_message"`
	Status         OutboxStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	DispatchedAt   *time.Time   `json:"dispatched_at,omitempty"`
	SequenceNumber uint64       `json:"sequence_number"`
}

// NewOutboxID mints an outbox row id. ULIDs sort lexicographically by
// creation time, so row ids line up with sequence order when operators
// scan the table by id.
func NewOutboxID() string {
	return ulid.Make().String()
}

// PartitionLock is the exclusive, auto-expiring hold one task has on a
// partition key.
type PartitionLock struct {
	PartitionKey string
	HolderTaskID string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the lock has passed its expiry as of now.
func (l *PartitionLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// ExecutionTrack is a single-flight row keyed by taskName[":"userKey].
type ExecutionTrack struct {
	LockKey      string
	HolderTaskID string
	StartedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the track has passed its expiry as of now.
func (t *ExecutionTrack) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RevocationRecord marks a task id as revoked, with optional hard-cancel
// and cooperative-cancel signal.
type RevocationRecord struct {
	TaskID    string
	Terminate bool
	Signal    string
	RevokedAt time.Time
	ExpiresAt time.Time
}
