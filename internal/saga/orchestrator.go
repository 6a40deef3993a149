package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/signal"
)

// Config bounds saga orchestrator behavior.
type Config struct {
	// AutoCompensateOnFailure, if true, triggers compensation as soon as
	// an execute step fails instead of leaving the saga Failed.
	AutoCompensateOnFailure bool
	// DispatchSignals is carried over from configuration; false by
	// default. The Orchestrator does not read it and publishes no
	// completions of its own through Signals.
	DispatchSignals bool
}

// Orchestrator sequences a Saga's steps and drives ordered compensation,
// modeled on a run-DAG orchestrator's event/restore shape, applied to a
// linear, compensatable step list.
type Orchestrator struct {
	store   Store
	broker  broker.Broker
	signals signal.Store
	newID   func() string
	cfg     Config
	logger  *slog.Logger

	mu     sync.RWMutex
	active map[string]*domain.Saga
}

// New builds an Orchestrator.
func New(store Store, brk broker.Broker, signals signal.Store, newID func() string, cfg Config, logger *slog.Logger) *Orchestrator {
	if newID == nil {
		newID = domain.NewID
	}
	return &Orchestrator{
		store:   store,
		broker:  brk,
		signals: signals,
		newID:   newID,
		cfg:     cfg,
		logger:  logger,
		active:  make(map[string]*domain.Saga),
	}
}

// Run subscribes to completion signals and drives the saga state machine
// until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ch, err := o.signals.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("saga: subscribe signals: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if err := o.HandleCompletion(ctx, c); err != nil {
				o.logger.Error("saga: failed handling completion", "task_id", c.TaskID, "error", err)
			}
		}
	}
}

// Start persists s (assigning an id if absent), marks it Executing, and
// dispatches its first step. A saga with no steps completes immediately.
func (o *Orchestrator) Start(ctx context.Context, s *domain.Saga) error {
	if s.ID == "" {
		s.ID = o.newID()
	}
	s.State = domain.SagaExecuting
	s.CurrentStepIndex = 0
	s.StartedAt = time.Now()

	if len(s.Steps) == 0 {
		return o.finish(ctx, s, domain.SagaCompleted)
	}

	if err := o.dispatchStep(ctx, s, 0); err != nil {
		return err
	}
	return o.save(ctx, s)
}

// HandleCompletion reacts to one terminal signal for a dispatched step's
// task, advancing, compensating, or finishing the owning saga.
func (o *Orchestrator) HandleCompletion(ctx context.Context, c signal.Completion) error {
	s, step, isExecute, err := o.findOwningStep(ctx, c.TaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if isExecute {
		return o.handleExecuteCompletion(ctx, s, step, c)
	}
	return o.handleCompensateCompletion(ctx, s, step, c)
}

func (o *Orchestrator) handleExecuteCompletion(ctx context.Context, s *domain.Saga, step *domain.SagaStep, c signal.Completion) error {
	switch c.State {
	case domain.ResultSuccess:
		step.State = domain.StepCompleted
		step.Result = c.Result

		if s.State != domain.SagaExecuting {
			return o.save(ctx, s)
		}
		s.CurrentStepIndex++
		if s.CurrentStepIndex >= len(s.Steps) {
			return o.finish(ctx, s, domain.SagaCompleted)
		}
		if err := o.dispatchStep(ctx, s, s.CurrentStepIndex); err != nil {
			return err
		}
		return o.save(ctx, s)

	default: // Failure, Revoked, Rejected
		step.State = domain.StepFailed
		step.Error = c.Error
		s.FailureReason = fmt.Sprintf("step %s failed: %s", step.Name, c.Error)

		if !o.cfg.AutoCompensateOnFailure {
			return o.finish(ctx, s, domain.SagaFailed)
		}
		return o.startCompensation(ctx, s)
	}
}

func (o *Orchestrator) handleCompensateCompletion(ctx context.Context, s *domain.Saga, step *domain.SagaStep, c signal.Completion) error {
	switch c.State {
	case domain.ResultSuccess:
		step.State = domain.StepCompensated
	default:
		step.State = domain.StepCompensationFailed
		step.Error = c.Error
	}
	return o.continueCompensation(ctx, s)
}

// startCompensation transitions s into Compensating and dispatches the
// first eligible compensation.
func (o *Orchestrator) startCompensation(ctx context.Context, s *domain.Saga) error {
	s.State = domain.SagaCompensating
	return o.continueCompensation(ctx, s)
}

// continueCompensation dispatches the next highest-order completed step
// that declares a compensation, or finishes the saga once none remain
// descending by step order, undoing the most recent completed step first.
func (o *Orchestrator) continueCompensation(ctx context.Context, s *domain.Saga) error {
	remaining := s.CompletedStepsDescending()
	if len(remaining) == 0 {
		if anyCompensationFailed(s) {
			return o.finish(ctx, s, domain.SagaCompensationFailed)
		}
		return o.finish(ctx, s, domain.SagaCompensated)
	}

	next := remaining[0]
	next.CompensateTaskID = o.newID()
	next.State = domain.StepCompensating
	msg := o.buildMessage(s, *next.CompensateTask, next.CompensateTaskID)
	if err := o.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("saga: publish compensation: %w", err)
	}
	return o.save(ctx, s)
}

func anyCompensationFailed(s *domain.Saga) bool {
	for i := range s.Steps {
		if s.Steps[i].State == domain.StepCompensationFailed {
			return true
		}
	}
	return false
}

// Get returns the current state of sagaID, checking the in-process active
// set before falling back to the store.
func (o *Orchestrator) Get(ctx context.Context, sagaID string) (*domain.Saga, error) {
	return o.load(ctx, sagaID)
}

// Cancel stops a saga: if any step has already completed with a
// compensation, cancellation triggers compensation; otherwise the saga is
// marked Cancelled directly.
func (o *Orchestrator) Cancel(ctx context.Context, sagaID string) error {
	s, err := o.load(ctx, sagaID)
	if err != nil {
		return err
	}
	if len(s.CompletedStepsDescending()) > 0 {
		return o.startCompensation(ctx, s)
	}
	return o.finish(ctx, s, domain.SagaCancelled)
}

// Retry resets the saga's current step to Pending and republishes it.
func (o *Orchestrator) Retry(ctx context.Context, sagaID string) error {
	s, err := o.load(ctx, sagaID)
	if err != nil {
		return err
	}
	if s.CurrentStep() == nil {
		return ErrNoCurrentStep
	}
	s.Steps[s.CurrentStepIndex].State = domain.StepPending
	if err := o.dispatchStep(ctx, s, s.CurrentStepIndex); err != nil {
		return err
	}
	return o.save(ctx, s)
}

func (o *Orchestrator) dispatchStep(ctx context.Context, s *domain.Saga, idx int) error {
	step := &s.Steps[idx]
	step.ExecuteTaskID = o.newID()
	step.State = domain.StepExecuting
	msg := o.buildMessage(s, step.ExecuteTask, step.ExecuteTaskID)
	if err := o.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("saga: publish step %s: %w", step.Name, err)
	}
	return nil
}

func (o *Orchestrator) buildMessage(s *domain.Saga, sig domain.Signature, taskID string) domain.TaskMessage {
	return domain.TaskMessage{
		ID:            taskID,
		Task:          sig.TaskName,
		Args:          sig.Args,
		ContentType:   "application/json",
		Queue:         sig.Queue,
		Timestamp:     time.Now().UTC(),
		MaxRetries:    sig.MaxRetries,
		CorrelationID: s.ID,
		RootID:        s.ID,
	}
}

func (o *Orchestrator) finish(ctx context.Context, s *domain.Saga, state domain.SagaState) error {
	s.State = state
	now := time.Now()
	s.CompletedAt = &now
	o.untrack(s.ID)
	return o.save(ctx, s)
}

func (o *Orchestrator) save(ctx context.Context, s *domain.Saga) error {
	if err := o.store.Save(ctx, s); err != nil {
		return fmt.Errorf("saga: save: %w", err)
	}
	if !s.State.IsTerminal() {
		o.track(ctx, s)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*domain.Saga, error) {
	if s := o.fromActive(id); s != nil {
		return s, nil
	}
	return o.store.Get(ctx, id)
}

// findOwningStep resolves taskID to its saga and step, checked first
// against the in-process active set and falling back to the store —
// falling back to the store when the saga is not in the active set.
func (o *Orchestrator) findOwningStep(ctx context.Context, taskID string) (*domain.Saga, *domain.SagaStep, bool, error) {
	s, err := o.findOwning(ctx, taskID)
	if err != nil {
		return nil, nil, false, err
	}
	for i := range s.Steps {
		if s.Steps[i].ExecuteTaskID == taskID {
			return s, &s.Steps[i], true, nil
		}
		if s.Steps[i].CompensateTaskID == taskID {
			return s, &s.Steps[i], false, nil
		}
	}
	return nil, nil, false, ErrNotFound
}

func (o *Orchestrator) findOwning(ctx context.Context, taskID string) (*domain.Saga, error) {
	o.mu.RLock()
	for _, s := range o.active {
		for i := range s.Steps {
			if s.Steps[i].ExecuteTaskID == taskID || s.Steps[i].CompensateTaskID == taskID {
				o.mu.RUnlock()
				return s, nil
			}
		}
	}
	o.mu.RUnlock()
	return o.store.FindByTaskID(ctx, taskID)
}

func (o *Orchestrator) track(ctx context.Context, s *domain.Saga) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[s.ID] = s
	return nil
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

func (o *Orchestrator) fromActive(id string) *domain.Saga {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[id]
}
