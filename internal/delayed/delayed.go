// Package delayed implements the ETA dispatcher: a
// background loop that polls a delay store for messages whose delivery
// time has arrived and republishes them to the broker with eta cleared.
package delayed

import (
	"context"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// DelayedMessage is one row in the delay store.
type DelayedMessage struct {
	ID           string
	TaskMessage  domain.TaskMessage
	DeliveryTime time.Time
}

// Store holds messages scheduled for future delivery, indexed so both a
// due-message scan and a next-due-time lookup are efficient.
type Store interface {
	// Insert adds a message due at deliveryTime.
	Insert(ctx context.Context, msg domain.TaskMessage, deliveryTime time.Time) (id string, err error)

	// FetchDue returns up to limit messages whose delivery time has
	// passed, removing them from the store.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]DelayedMessage, error)

	// NextDeliveryTime returns the earliest pending delivery time, or
	// ok=false if the store is empty.
	NextDeliveryTime(ctx context.Context) (t time.Time, ok bool, err error)

	// Reinsert puts a message back with a new delivery time, used when a
	// republish attempt fails.
	Reinsert(ctx context.Context, msg DelayedMessage, deliveryTime time.Time) error
}

// Config controls dispatcher cadence.
type Config struct {
	// PollInterval upper-bounds the sleep between cycles when no message
	// is imminently due.
	PollInterval time.Duration

	// BatchSize bounds due messages fetched per cycle.
	BatchSize int

	// RetryInterval is how far into the future a message that failed to
	// republish is rescheduled.
	RetryInterval time.Duration
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  5 * time.Second,
		BatchSize:     100,
		RetryInterval: 10 * time.Second,
	}
}
