package delayed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []domain.TaskMessage
	fail      bool
}

func (b *fakeBroker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("simulated publish failure")
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error) {
	return nil, errors.New("not implemented")
}
func (b *fakeBroker) Ack(ctx context.Context, msg domain.BrokerMessage) error             { return nil }
func (b *fakeBroker) Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error { return nil }
func (b *fakeBroker) IsHealthy() bool                                                     { return true }
func (b *fakeBroker) Close() error                                                        { return nil }

func TestTickRepublishesDueMessagesWithETACleared(t *testing.T) {
	store := NewMemory()
	brk := &fakeBroker{}
	d := New(store, brk, Config{BatchSize: 10}, slog.Default())
	ctx := context.Background()

	eta := time.Now().Add(time.Hour)
	msg := domain.TaskMessage{ID: "t1", ETA: &eta}
	store.Insert(ctx, msg, time.Now().Add(-time.Second))

	if err := d.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(brk.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(brk.published))
	}
	if brk.published[0].ETA != nil {
		t.Fatal("expected ETA cleared on republish")
	}
	if store.Len() != 0 {
		t.Fatal("expected due message removed from store")
	}
}

func TestTickSkipsNotYetDueMessages(t *testing.T) {
	store := NewMemory()
	brk := &fakeBroker{}
	d := New(store, brk, Config{BatchSize: 10}, slog.Default())
	ctx := context.Background()

	store.Insert(ctx, domain.TaskMessage{ID: "future"}, time.Now().Add(time.Hour))

	if err := d.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(brk.published) != 0 {
		t.Fatal("expected no messages published before their delivery time")
	}
	if store.Len() != 1 {
		t.Fatal("expected future message to remain in store")
	}
}

func TestTickReinsertsOnPublishFailure(t *testing.T) {
	store := NewMemory()
	brk := &fakeBroker{fail: true}
	d := New(store, brk, Config{BatchSize: 10, RetryInterval: 30 * time.Second}, slog.Default())
	ctx := context.Background()

	store.Insert(ctx, domain.TaskMessage{ID: "t2"}, time.Now().Add(-time.Second))

	if err := d.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(brk.published) != 0 {
		t.Fatal("expected no successful publish")
	}
	if store.Len() != 1 {
		t.Fatal("expected message reinserted after publish failure")
	}
	next, ok, err := store.NextDeliveryTime(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a next delivery time, ok=%v err=%v", ok, err)
	}
	if next.Before(time.Now().Add(20 * time.Second)) {
		t.Fatalf("expected retry scheduled roughly RetryInterval out, got %v", next)
	}
}
