// Package broker defines the wire-level collaborator DotCelery consumes
// and ships two implementations: a RabbitMQ broker for
// production and an in-memory broker for tests and the in-process sample
// pipeline.
package broker

import (
	"context"
	"errors"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// ErrQueueFull is returned by implementations that bound outstanding
// deliveries and refuse a publish past that bound.
var ErrQueueFull = errors.New("broker: queue full")

// Broker is the collaborator the worker and outbox dispatcher consume.
// Requirements: at-least-once delivery, per-delivery tag
// uniqueness, reject-with-requeue returns the message to another consumer,
// prefetch applies per consumer.
type Broker interface {
	// Publish durably submits msg to msg.Queue.
	Publish(ctx context.Context, msg domain.TaskMessage) error

	// Consume opens a delivery stream for the given queues. The returned
	// channel is closed when ctx is cancelled or the consumer is stopped.
	Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error)

	// Ack acknowledges a delivery exactly once.
	Ack(ctx context.Context, msg domain.BrokerMessage) error

	// Reject rejects a delivery; requeue=true returns it to another
	// consumer, false drops it (broker-side DLQ routing, if configured).
	Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error

	// IsHealthy reports basic connectivity.
	IsHealthy() bool

	// Close releases broker resources.
	Close() error
}
