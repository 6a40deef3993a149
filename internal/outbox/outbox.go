// Package outbox implements the transactional outbox pattern: producers write an OutboxMessage inside their own business
// transaction, and a background Dispatcher republishes pending rows to the
// broker in strict sequenceNumber order, retrying on failure up to
// MaxAttempts before marking a row permanently Failed.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("outbox: not found")

// Store is the durable backing store for outbox rows. Implementations must
// preserve sequenceNumber order within FetchPending.
type Store interface {
	// Save inserts a new pending row. SequenceNumber must be assigned by
	// the store so ordering is consistent across concurrent writers. The
	// Postgres store writes through its own pool; it does not join a
	// caller's transaction.
	Save(ctx context.Context, msg *domain.OutboxMessage) error

	// FetchPending returns up to limit PENDING rows ordered ascending by
	// sequenceNumber.
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)

	// MarkDispatched transitions a row to DISPATCHED.
	MarkDispatched(ctx context.Context, id string, dispatchedAt time.Time) error

	// MarkFailedAttempt records a failed publish attempt, incrementing
	// attempts and storing lastErr. If the resulting attempt count
	// reaches maxAttempts the row transitions to FAILED.
	MarkFailedAttempt(ctx context.Context, id string, lastErr string, maxAttempts int) error

	// DeleteOlderThan removes DISPATCHED/FAILED rows whose terminal
	// timestamp precedes cutoff, returning the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls dispatcher cadence and retry budget.
type Config struct {
	// PollInterval is how often the dispatcher checks for pending rows.
	PollInterval time.Duration

	// BatchSize bounds how many rows one dispatch iteration fetches.
	BatchSize int

	// MaxAttempts is the publish attempt budget before a row is marked
	// FAILED permanently.
	MaxAttempts int

	// RetentionPeriod is how long a DISPATCHED or FAILED row survives
	// before Cleanup removes it.
	RetentionPeriod time.Duration
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		BatchSize:       100,
		MaxAttempts:     5,
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}
