package beat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcelery/dotcelery/internal/client"
	"github.com/dotcelery/dotcelery/internal/cron"
)

// Scheduler dispatches due entries on each Tick, generalizing a
// due-schedule-to-run-creation pass into a cron-driven task producer.
type Scheduler struct {
	store     Store
	client    *client.Client
	logger    *slog.Logger
	batchSize int
}

// Config bounds a Scheduler.
type Config struct {
	// BatchSize limits how many due entries one Tick dispatches (default 100).
	BatchSize int
}

// New builds a Scheduler.
func New(store Store, c *client.Client, cfg Config, logger *slog.Logger) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{store: store, client: c, logger: logger, batchSize: batchSize}
}

// Tick finds every entry due to run, dispatches it, and reschedules its
// next occurrence. One entry's failure does not block the others.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("beat: list due: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var dispatched int
	for i := range due {
		if err := s.processEntry(ctx, &due[i], now); err != nil {
			s.logger.Error("beat: entry dispatch failed",
				"entry_id", due[i].ID, "entry_name", due[i].Name, "error", err)
			continue
		}
		dispatched++
	}

	s.logger.Info("beat tick completed", "due", len(due), "dispatched", dispatched)
	return nil
}

func (s *Scheduler) processEntry(ctx context.Context, e *Entry, now time.Time) error {
	sched, err := cron.Parse(e.CronExpr)
	if err != nil {
		return fmt.Errorf("parse cron expression: %w", err)
	}

	if _, err := s.client.Send(ctx, e.Task, e.Args, client.SendOptions{Queue: e.Queue}); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	next, err := sched.NextAfter(now, time.UTC)
	if err != nil {
		return fmt.Errorf("compute next occurrence: %w", err)
	}

	e.LastRunAt = &now
	e.NextRunAt = next
	if err := s.store.Save(ctx, *e); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("beat: tick failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
