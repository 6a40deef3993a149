package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/delayed"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/executor"
	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/registry"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/serializer"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

type fakeBroker struct {
	deliveries chan domain.BrokerMessage

	mu        sync.Mutex
	published []domain.TaskMessage
	acked     []domain.BrokerMessage
	rejected  []domain.BrokerMessage
	requeued  []bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{deliveries: make(chan domain.BrokerMessage, 16)}
}

func (b *fakeBroker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Ack(ctx context.Context, msg domain.BrokerMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, msg)
	return nil
}

func (b *fakeBroker) Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected = append(b.rejected, msg)
	b.requeued = append(b.requeued, requeue)
	return nil
}

func (b *fakeBroker) IsHealthy() bool { return true }
func (b *fakeBroker) Close() error    { return nil }

func (b *fakeBroker) ackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked)
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBroker) rejectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rejected)
}

func newTestExecutor(reg *registry.Registry) *executor.Executor {
	dl := deadletter.New(deadletter.NewMemory(), deadletter.Config{Enabled: true}, testLogger{}, domain.NewID)
	pipeline := filter.New(slog.Default())
	return executor.New(reg, pipeline, resultbackend.NewMemory(), revocation.NewMemory(), dl, serializer.JSON{}, executor.Config{}, slog.Default())
}

type testLogger struct{}

func (testLogger) Warn(msg string, args ...any) {}

func taskDelivery(task string) domain.BrokerMessage {
	return domain.BrokerMessage{
		Task: domain.TaskMessage{
			ID:          domain.NewID(),
			Task:        task,
			Args:        []byte(`{}`),
			ContentType: "application/json",
			Queue:       "default",
			Timestamp:   time.Now(),
			MaxRetries:  3,
		},
		DeliveryTag: domain.NewID(),
		Queue:       "default",
		ReceivedAt:  time.Now(),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRunAcksSuccessfulDelivery(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name:    "noop",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) { return args, nil },
	})
	exec := newTestExecutor(reg)
	brk := newFakeBroker()
	w := New(brk, nil, exec, nil, Config{Concurrency: 2, Prefetch: 4}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	brk.deliveries <- taskDelivery("noop")
	waitUntil(t, time.Second, func() bool { return brk.ackCount() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}
}

func TestRunRetriesAndRepublishes(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "flaky",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return nil, errors.New("transient")
		},
	})
	exec := newTestExecutor(reg)
	brk := newFakeBroker()
	w := New(brk, nil, exec, nil, Config{Concurrency: 1, Prefetch: 4}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	delivery := taskDelivery("flaky")
	delivery.Task.MaxRetries = 5
	brk.deliveries <- delivery

	waitUntil(t, time.Second, func() bool { return brk.publishCount() == 1 && brk.ackCount() == 1 })

	cancel()
	<-done
}

func TestForcedShutdownRejectRequeuesOutstandingDelivery(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	started := make(chan struct{})
	reg.MustRegister(registry.Registration{
		Name: "stuck",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			close(started)
			<-release
			return nil, nil
		},
	})
	exec := newTestExecutor(reg)
	brk := newFakeBroker()
	w := New(brk, nil, exec, nil, Config{
		Concurrency:            1,
		Prefetch:               4,
		EnableGracefulShutdown: true,
		ShutdownTimeout:        50 * time.Millisecond,
		NackOnForcedShutdown:   true,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	brk.deliveries <- taskDelivery("stuck")
	<-started

	stopAt := time.Now()
	w.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after shutdown timeout")
	}
	if elapsed := time.Since(stopAt); elapsed > time.Second {
		t.Fatalf("worker took %v to exit, want ~ShutdownTimeout", elapsed)
	}

	if brk.rejectCount() != 1 {
		t.Fatalf("expected outstanding delivery to be reject-requeued, got %d rejects", brk.rejectCount())
	}
	brk.mu.Lock()
	requeued := brk.requeued[0]
	brk.mu.Unlock()
	if !requeued {
		t.Fatal("expected reject with requeue=true")
	}

	close(release)
}

func TestRunCancelsInFlightTaskOnRevocation(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	reg.MustRegister(registry.Registration{
		Name: "slow",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			close(started)
			<-tc.Done()
			return nil, tc.Err()
		},
	})

	results := resultbackend.NewMemory()
	revocations := revocation.NewMemory()
	dl := deadletter.New(deadletter.NewMemory(), deadletter.Config{Enabled: true}, testLogger{}, domain.NewID)
	exec := executor.New(reg, filter.New(slog.Default()), results, revocations, dl, serializer.JSON{}, executor.Config{}, slog.Default())

	brk := newFakeBroker()
	w := New(brk, nil, exec, nil, Config{Concurrency: 1, Prefetch: 4}, slog.Default())
	w.SetRevocations(revocations)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	delivery := taskDelivery("slow")
	brk.deliveries <- delivery
	<-started

	if err := revocations.Revoke(ctx, delivery.Task.ID, revocation.Options{}); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, time.Second, func() bool { return brk.ackCount() == 1 })

	stored, err := results.Get(context.Background(), delivery.Task.ID)
	if err != nil {
		t.Fatalf("expected stored result: %v", err)
	}
	if stored.State != domain.ResultRevoked {
		t.Fatalf("expected Revoked after mid-flight revocation, got %v", stored.State)
	}

	cancel()
	<-done
}

func TestRunParksFutureETAInDelayStore(t *testing.T) {
	reg := registry.New()
	exec := newTestExecutor(reg)
	brk := newFakeBroker()
	store := delayed.NewMemory()
	w := New(brk, store, exec, nil, Config{Concurrency: 1, Prefetch: 4, UseDelayQueue: true}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	delivery := taskDelivery("whatever")
	eta := time.Now().Add(time.Hour)
	delivery.Task.ETA = &eta
	brk.deliveries <- delivery

	waitUntil(t, time.Second, func() bool { return store.Len() == 1 && brk.ackCount() == 1 })

	cancel()
	<-done
}
