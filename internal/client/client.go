// Package client builds task envelopes from caller input and SendOptions,
// publishes them either directly to the broker or through the transactional
// outbox, and returns an AsyncResult for polling completion.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/outbox"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/serializer"
)

// Config bounds a Client's defaults.
type Config struct {
	// DefaultQueue is used for a Send call whose SendOptions.Queue is
	// empty.
	DefaultQueue string
	// DefaultMaxRetries is applied when SendOptions.MaxRetries is left at
	// its zero value.
	DefaultMaxRetries int
}

// Client publishes tasks and builds AsyncResults to observe their outcome.
type Client struct {
	broker     broker.Broker
	outbox     outbox.Store
	serializer serializer.Serializer
	backend    resultbackend.Backend
	cfg        Config
	newID      func() string
}

// New builds a Client. outboxStore may be nil, in which case Send publishes
// directly to the broker instead of writing a pending outbox row.
func New(brk broker.Broker, outboxStore outbox.Store, ser serializer.Serializer, backend resultbackend.Backend, cfg Config) *Client {
	return &Client{broker: brk, outbox: outboxStore, serializer: ser, backend: backend, cfg: cfg, newID: domain.NewID}
}

// Send serializes input, builds a TaskMessage from opts, and submits it.
func (c *Client) Send(ctx context.Context, taskName string, input any, opts SendOptions) (*AsyncResult, error) {
	now := time.Now().UTC()
	if err := validateOptions(opts, now); err != nil {
		return nil, fmt.Errorf("client: invalid options: %w", err)
	}

	args, err := c.serializer.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("client: marshal args: %w", err)
	}

	queue := opts.Queue
	if queue == "" {
		queue = c.cfg.DefaultQueue
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = c.cfg.DefaultMaxRetries
	}

	msg := domain.TaskMessage{
		ID:          c.newID(),
		Task:        taskName,
		Args:        args,
		ContentType: c.serializer.ContentType(),
		Queue:       queue,
		Timestamp:   now,
	}
	opts.applyTo(&msg, now)
	msg.MaxRetries = maxRetries
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid message: %w", err)
	}

	if c.outbox != nil {
		if err := c.outbox.Save(ctx, &domain.OutboxMessage{
			ID:          domain.NewOutboxID(),
			TaskMessage: msg,
			Status:      domain.OutboxPending,
			CreatedAt:   now,
		}); err != nil {
			return nil, fmt.Errorf("client: outbox save: %w", err)
		}
	} else if err := c.broker.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("client: publish: %w", err)
	}

	return &AsyncResult{taskID: msg.ID, backend: c.backend}, nil
}
