package delayed

import (
	"context"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
)

// Dispatcher polls Store for due messages and republishes them with eta
// cleared.
type Dispatcher struct {
	store  Store
	broker broker.Broker
	cfg    Config
	logger *slog.Logger
}

// New builds a Dispatcher. cfg's zero values are filled from DefaultConfig.
func New(store Store, brk broker.Broker, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Dispatcher{store: store, broker: brk, cfg: cfg, logger: logger}
}

// Run blocks, dispatching due messages until ctx is cancelled. Between
// cycles it sleeps for min(pollInterval, nextDeliveryTime-now) so idle
// systems don't busy-poll and imminent deliveries fire promptly.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if err := d.Tick(ctx); err != nil {
			d.logger.Error("delayed dispatch tick failed", "error", err)
		}

		wait := d.cfg.PollInterval
		if next, ok, err := d.store.NextDeliveryTime(ctx); err == nil && ok {
			if untilNext := time.Until(next); untilNext < wait {
				wait = untilNext
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Tick performs one fetch-and-republish pass.
func (d *Dispatcher) Tick(ctx context.Context) error {
	due, err := d.store.FetchDue(ctx, time.Now(), d.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, msg := range due {
		taskMsg := msg.TaskMessage
		taskMsg.ETA = nil

		if err := d.broker.Publish(ctx, taskMsg); err != nil {
			d.logger.Warn("delayed republish failed, rescheduling",
				"task_id", msg.TaskMessage.ID,
				"error", err,
			)
			retryAt := time.Now().Add(d.cfg.RetryInterval)
			if reErr := d.store.Reinsert(ctx, msg, retryAt); reErr != nil {
				d.logger.Error("delayed reinsert failed", "task_id", msg.TaskMessage.ID, "error", reErr)
			}
			continue
		}
	}
	return nil
}
