// Package worker implements the Worker Service: a broker
// consumer loop feeding a bounded work channel, a pool of executor fibers,
// and the translation of classified outcomes back into broker
// ack/reject/republish operations.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/delayed"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/executor"
	"github.com/dotcelery/dotcelery/internal/killswitch"
	"github.com/dotcelery/dotcelery/internal/revocation"
)

// Config bounds a Worker's consumption and shutdown behavior.
type Config struct {
	Queues      []string
	Concurrency int
	Prefetch    int

	UseDelayQueue                  bool
	RequeueRateLimitedToDelayQueue bool

	EnableGracefulShutdown bool
	ShutdownTimeout        time.Duration
	NackOnForcedShutdown   bool

	// ETAFallbackSleep bounds the sleep-then-reject-requeue fallback path
	// for future-ETA deliveries when no delay store is configured.
	ETAFallbackSleep time.Duration
}

// DefaultConfig returns the resolved defaults.
func DefaultConfig() Config {
	return Config{
		Queues:                 []string{"default"},
		Concurrency:            4,
		Prefetch:               8,
		EnableGracefulShutdown: true,
		ShutdownTimeout:        30 * time.Second,
		ETAFallbackSleep:       5 * time.Second,
	}
}

// Worker runs one broker-consuming process: a single consumer fiber
// delivering into a bounded work channel, and cfg.Concurrency executor
// fibers draining it.
type Worker struct {
	broker      broker.Broker
	delayStore  delayed.Store
	exec        *executor.Executor
	killSwitch  *killswitch.KillSwitch
	revocations revocation.Store
	cfg         Config
	logger      *slog.Logger

	workCh chan domain.BrokerMessage

	inFlight sync.WaitGroup
	// inFlightCancels maps task id -> per-delivery cancel, so a revocation
	// event can cooperatively cancel a handler already running.
	inFlightCancels sync.Map
	// inFlightMsgs maps task id -> delivery, so a forced shutdown can
	// reject-requeue what its handlers never finished.
	inFlightMsgs sync.Map
	stopping     chan struct{}
	stopOnce     sync.Once
}

// New builds a Worker. killSwitch may be nil, in which case the kill-switch
// gate is skipped.
func New(brk broker.Broker, delayStore delayed.Store, exec *executor.Executor, ks *killswitch.KillSwitch, cfg Config, logger *slog.Logger) *Worker {
	def := DefaultConfig()
	if len(cfg.Queues) == 0 {
		cfg.Queues = def.Queues
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.ETAFallbackSleep <= 0 {
		cfg.ETAFallbackSleep = def.ETAFallbackSleep
	}
	return &Worker{
		broker:     brk,
		delayStore: delayStore,
		exec:       exec,
		killSwitch: ks,
		cfg:        cfg,
		logger:     logger,
		workCh:     make(chan domain.BrokerMessage, cfg.Prefetch*cfg.Concurrency),
		stopping:   make(chan struct{}),
	}
}

// SetRevocations attaches a revocation store whose event stream the worker
// watches to cancel matching in-flight handlers. Optional — nil means only
// the executor's pre-run revocation check applies.
func (w *Worker) SetRevocations(store revocation.Store) {
	w.revocations = store
}

// Run opens the broker consumer and blocks until ctx is cancelled or Stop
// is called, then drains in-flight deliveries per the graceful-shutdown
// policy before returning.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.broker.Consume(ctx, w.cfg.Queues, w.cfg.Prefetch)
	if err != nil {
		return err
	}

	if w.revocations != nil {
		go w.watchRevocations(ctx)
	}

	var fibers sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		fibers.Add(1)
		go func() {
			defer fibers.Done()
			w.runFiber(ctx)
		}()
	}

	w.consumeLoop(ctx, deliveries)

	close(w.workCh)
	if w.cfg.EnableGracefulShutdown {
		if !w.waitWithTimeout(&fibers, w.cfg.ShutdownTimeout) && w.cfg.NackOnForcedShutdown {
			w.rejectOutstanding()
		}
	} else {
		fibers.Wait()
	}
	return nil
}

// rejectOutstanding reject-requeues every delivery whose handler did not
// finish by the shutdown deadline, so another worker reattempts it. The
// per-delivery tokens are cancelled first to give handlers a last chance
// to stop cleanly.
func (w *Worker) rejectOutstanding() {
	ctx := context.Background()
	w.inFlightMsgs.Range(func(key, value any) bool {
		if c, ok := w.inFlightCancels.Load(key); ok {
			c.(context.CancelFunc)()
		}
		bm, ok := w.inFlightMsgs.LoadAndDelete(key)
		if !ok {
			return true
		}
		delivery := bm.(domain.BrokerMessage)
		w.logger.Warn("reject-requeueing delivery outstanding at shutdown deadline", "task_id", delivery.Task.ID)
		if err := w.broker.Reject(ctx, delivery, true); err != nil {
			w.logger.Error("failed to reject outstanding delivery", "task_id", delivery.Task.ID, "error", err)
		}
		return true
	})
}

// Stop signals graceful shutdown: the worker stops pulling new deliveries
// into the work channel and, when EnableGracefulShutdown and
// NackOnForcedShutdown are both set, reject-requeues any deliveries still
// outstanding once ShutdownTimeout elapses.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopping) })
}

// waitWithTimeout reports whether every fiber drained before timeout.
func (w *Worker) waitWithTimeout(fibers *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fibers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		w.logger.Warn("shutdown timeout reached with tasks still in flight")
		return false
	}
}

// consumeLoop pulls deliveries off the broker channel into the bounded
// work channel, gating each on the kill switch and the stop signal.
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan domain.BrokerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopping:
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			if w.killSwitch != nil {
				if err := w.killSwitch.WaitUntilReady(ctx); err != nil {
					return
				}
			}
			select {
			case w.workCh <- msg:
			case <-ctx.Done():
				return
			case <-w.stopping:
				return
			}
		}
	}
}

// runFiber drains the work channel, running the executor per delivery and
// translating its outcome into broker operations.
func (w *Worker) runFiber(ctx context.Context) {
	for bm := range w.workCh {
		w.inFlight.Add(1)
		w.process(ctx, bm)
		w.inFlight.Done()
	}
}

// watchRevocations cancels in-flight handlers named by revocation events.
func (w *Worker) watchRevocations(ctx context.Context) {
	events, err := w.revocations.Subscribe(ctx)
	if err != nil {
		w.logger.Error("revocation subscribe failed", "error", err)
		return
	}
	for rec := range events {
		if c, ok := w.inFlightCancels.Load(rec.TaskID); ok {
			w.logger.Info("cancelling in-flight task on revocation", "task_id", rec.TaskID, "terminate", rec.Terminate)
			c.(context.CancelFunc)()
		}
	}
}

func (w *Worker) process(ctx context.Context, bm domain.BrokerMessage) {
	if eta := bm.Task.ETA; eta != nil && eta.After(time.Now()) {
		w.handleFutureETA(ctx, bm, *eta)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	w.inFlightCancels.Store(bm.Task.ID, cancel)
	w.inFlightMsgs.Store(bm.Task.ID, bm)
	defer func() {
		w.inFlightCancels.Delete(bm.Task.ID)
		cancel()
	}()

	outcome := w.exec.Run(taskCtx, bm.Task, w.stopping)
	w.recordOutcome(outcome)

	// A forced shutdown may have claimed this delivery already; its
	// reject is then the one terminal broker op.
	if _, stillOurs := w.inFlightMsgs.LoadAndDelete(bm.Task.ID); !stillOurs {
		return
	}

	switch outcome.State {
	case executor.OutcomeSuccess, executor.OutcomeFailure, executor.OutcomeRevoked, executor.OutcomeRejected:
		w.ack(ctx, bm)

	case executor.OutcomeRetry:
		w.handleRetry(ctx, bm, outcome)

	case executor.OutcomeRequeued:
		w.requeueAfter(ctx, bm, outcome.RequeueDelay)

	default:
		w.logger.Error("unrecognized executor outcome, acking to avoid a stuck delivery", "task_id", bm.Task.ID, "state", outcome.State)
		w.ack(ctx, bm)
	}
}

// recordOutcome feeds the kill switch's rolling window. Only Success and
// Failure count; retries, requeues and revocations are neither.
func (w *Worker) recordOutcome(outcome executor.Outcome) {
	if w.killSwitch == nil {
		return
	}
	switch outcome.State {
	case executor.OutcomeSuccess:
		w.killSwitch.RecordSuccess()
	case executor.OutcomeFailure:
		w.killSwitch.RecordFailure(outcome.ExceptionType)
	}
}

// handleFutureETA handles a consumer-side delivery whose eta has not yet
// arrived: parked in the delay store when one is configured, else a short capped sleep before
// reject-requeue so the fallback never spins (the "no delay store" row).
func (w *Worker) handleFutureETA(ctx context.Context, bm domain.BrokerMessage, eta time.Time) {
	if w.cfg.UseDelayQueue && w.delayStore != nil {
		if _, err := w.delayStore.Insert(ctx, bm.Task, eta); err != nil {
			w.logger.Error("failed to insert future-eta delivery into delay store", "task_id", bm.Task.ID, "error", err)
		}
		w.ack(ctx, bm)
		return
	}

	w.requeueAfter(ctx, bm, min(w.cfg.ETAFallbackSleep, time.Until(eta)))
}

// handleRetry republishes the classified retry message immediately, or
// defers it through the delay store / broker ETA when retryAfter is set
// (rate-limit back-pressure), then acks the original delivery either way.
func (w *Worker) handleRetry(ctx context.Context, bm domain.BrokerMessage, outcome executor.Outcome) {
	if outcome.RetryAfter <= 0 {
		if err := w.broker.Publish(ctx, outcome.RetryMessage); err != nil {
			w.logger.Error("failed to republish retry", "task_id", outcome.RetryMessage.ID, "error", err)
		}
		w.ack(ctx, bm)
		return
	}

	deliverAt := time.Now().Add(outcome.RetryAfter)
	if w.cfg.RequeueRateLimitedToDelayQueue && w.delayStore != nil {
		if _, err := w.delayStore.Insert(ctx, outcome.RetryMessage, deliverAt); err != nil {
			w.logger.Error("failed to insert delayed retry", "task_id", outcome.RetryMessage.ID, "error", err)
		}
	} else {
		etaMsg := outcome.RetryMessage.WithETA(deliverAt)
		if err := w.broker.Publish(ctx, etaMsg); err != nil {
			w.logger.Error("failed to republish delayed retry", "task_id", etaMsg.ID, "error", err)
		}
	}
	w.ack(ctx, bm)
}

// requeueAfter returns bm to another consumer, optionally waiting delay
// first.
func (w *Worker) requeueAfter(ctx context.Context, bm domain.BrokerMessage, delay time.Duration) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	if err := w.broker.Reject(ctx, bm, true); err != nil {
		w.logger.Error("failed to reject-requeue", "task_id", bm.Task.ID, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, bm domain.BrokerMessage) {
	if err := w.broker.Ack(ctx, bm); err != nil {
		w.logger.Error("failed to ack delivery", "task_id", bm.Task.ID, "error", err)
	}
}
