package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/domain"
)

// Dispatcher repeatedly drains pending outbox rows to the broker in
// sequenceNumber order.
type Dispatcher struct {
	store  Store
	broker broker.Broker
	cfg    Config
	logger *slog.Logger

	tickMu chan struct{} // single-slot mutex guarding against overlapping ticks
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
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = def.RetentionPeriod
	}
	return &Dispatcher{
		store:  store,
		broker: brk,
		cfg:    cfg,
		logger: logger,
		tickMu: make(chan struct{}, 1),
	}
}

// Run blocks, dispatching on cfg.PollInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Error("outbox dispatch tick failed", "error", err)
			}
		}
	}
}

// Tick performs one fetch-and-publish pass. It is safe to call
// concurrently with Run; overlapping ticks are skipped, not queued.
func (d *Dispatcher) Tick(ctx context.Context) error {
	select {
	case d.tickMu <- struct{}{}:
		defer func() { <-d.tickMu }()
	default:
		return nil
	}

	rows, err := d.store.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range rows {
		row := &rows[i]
		if err := d.dispatchOne(ctx, row); err != nil {
			d.logger.Warn("outbox publish failed",
				"outbox_id", row.ID,
				"task_id", row.TaskMessage.ID,
				"attempts", row.Attempts+1,
				"error", err,
			)
			if markErr := d.store.MarkFailedAttempt(ctx, row.ID, err.Error(), d.cfg.MaxAttempts); markErr != nil {
				d.logger.Error("outbox mark-failed-attempt failed", "outbox_id", row.ID, "error", markErr)
			}
			continue
		}
		if err := d.store.MarkDispatched(ctx, row.ID, time.Now()); err != nil {
			d.logger.Error("outbox mark-dispatched failed", "outbox_id", row.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, row *domain.OutboxMessage) error {
	return d.broker.Publish(ctx, row.TaskMessage)
}

// Cleanup removes DISPATCHED/FAILED rows older than cfg.RetentionPeriod.
func (d *Dispatcher) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-d.cfg.RetentionPeriod)
	return d.store.DeleteOlderThan(ctx, cutoff)
}

// RunCleanup blocks, running Cleanup once per interval until ctx is
// cancelled.
func (d *Dispatcher) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Cleanup(ctx)
			if err != nil {
				d.logger.Error("outbox cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				d.logger.Info("outbox cleanup removed rows", "count", n)
			}
		}
	}
}
