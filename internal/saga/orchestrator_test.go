package saga

import (
	"context"
	"sync"
	"testing"

	"log/slog"

	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/signal"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []domain.TaskMessage
}

func (b *fakeBroker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}
func (b *fakeBroker) Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error) {
	return nil, nil
}
func (b *fakeBroker) Ack(ctx context.Context, msg domain.BrokerMessage) error             { return nil }
func (b *fakeBroker) Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error { return nil }
func (b *fakeBroker) IsHealthy() bool                                                     { return true }
func (b *fakeBroker) Close() error                                                        { return nil }

func (b *fakeBroker) last() domain.TaskMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

var idCounter int

func sequentialID() string {
	idCounter++
	return "id-" + string(rune('a'+idCounter))
}

func twoStepSaga() *domain.Saga {
	return &domain.Saga{
		Name: "provision-order",
		Steps: []domain.SagaStep{
			{
				Order:          0,
				Name:           "reserve-inventory",
				ExecuteTask:    domain.Signature{TaskName: "reserve_inventory"},
				CompensateTask: &domain.Signature{TaskName: "release_inventory"},
				State:          domain.StepPending,
			},
			{
				Order:       1,
				Name:        "charge-card",
				ExecuteTask: domain.Signature{TaskName: "charge_card"},
				State:       domain.StepPending,
			},
		},
	}
}

func TestStartDispatchesFirstStep(t *testing.T) {
	brk := &fakeBroker{}
	store := NewMemory()
	o := New(store, brk, signal.NewMemory(), sequentialID, Config{}, slog.Default())

	s := twoStepSaga()
	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	if brk.count() != 1 {
		t.Fatalf("expected 1 published message, got %d", brk.count())
	}
	if brk.last().Task != "reserve_inventory" {
		t.Fatalf("expected first step dispatched, got %s", brk.last().Task)
	}
	if s.Steps[0].State != domain.StepExecuting {
		t.Fatalf("expected step 0 executing, got %s", s.Steps[0].State)
	}
}

func TestSuccessfulCompletionAdvancesThenFinishes(t *testing.T) {
	brk := &fakeBroker{}
	store := NewMemory()
	o := New(store, brk, signal.NewMemory(), sequentialID, Config{}, slog.Default())

	s := twoStepSaga()
	ctx := context.Background()
	if err := o.Start(ctx, s); err != nil {
		t.Fatalf("start: %v", err)
	}
	step0ID := s.Steps[0].ExecuteTaskID

	if err := o.HandleCompletion(ctx, signal.Completion{TaskID: step0ID, State: domain.ResultSuccess}); err != nil {
		t.Fatalf("handle completion: %v", err)
	}
	if s.Steps[0].State != domain.StepCompleted {
		t.Fatalf("expected step 0 completed, got %s", s.Steps[0].State)
	}
	if brk.count() != 2 || brk.last().Task != "charge_card" {
		t.Fatalf("expected second step dispatched, published=%d last=%s", brk.count(), brk.last().Task)
	}

	step1ID := s.Steps[1].ExecuteTaskID
	if err := o.HandleCompletion(ctx, signal.Completion{TaskID: step1ID, State: domain.ResultSuccess}); err != nil {
		t.Fatalf("handle completion: %v", err)
	}
	if s.State != domain.SagaCompleted {
		t.Fatalf("expected saga completed, got %s", s.State)
	}
}

func TestFailureTriggersCompensation(t *testing.T) {
	brk := &fakeBroker{}
	store := NewMemory()
	o := New(store, brk, signal.NewMemory(), sequentialID, Config{AutoCompensateOnFailure: true}, slog.Default())

	s := twoStepSaga()
	ctx := context.Background()
	if err := o.Start(ctx, s); err != nil {
		t.Fatalf("start: %v", err)
	}
	step0ID := s.Steps[0].ExecuteTaskID
	if err := o.HandleCompletion(ctx, signal.Completion{TaskID: step0ID, State: domain.ResultSuccess}); err != nil {
		t.Fatalf("handle completion: %v", err)
	}
	step1ID := s.Steps[1].ExecuteTaskID
	if err := o.HandleCompletion(ctx, signal.Completion{TaskID: step1ID, State: domain.ResultFailure, Error: "card declined"}); err != nil {
		t.Fatalf("handle completion: %v", err)
	}

	if s.State != domain.SagaCompensating {
		t.Fatalf("expected saga compensating, got %s", s.State)
	}
	if brk.last().Task != "release_inventory" {
		t.Fatalf("expected compensation dispatched for step 0, got %s", brk.last().Task)
	}

	compID := s.Steps[0].CompensateTaskID
	if err := o.HandleCompletion(ctx, signal.Completion{TaskID: compID, State: domain.ResultSuccess}); err != nil {
		t.Fatalf("handle compensation completion: %v", err)
	}
	if s.State != domain.SagaCompensated {
		t.Fatalf("expected saga compensated, got %s", s.State)
	}
}

func TestCancelWithNoCompletedStepsMarksCancelled(t *testing.T) {
	brk := &fakeBroker{}
	store := NewMemory()
	o := New(store, brk, signal.NewMemory(), sequentialID, Config{}, slog.Default())

	s := twoStepSaga()
	ctx := context.Background()
	if err := o.Start(ctx, s); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.State != domain.SagaCancelled {
		t.Fatalf("expected cancelled, got %s", s.State)
	}
}
