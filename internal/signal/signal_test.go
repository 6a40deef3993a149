package signal

import (
	"context"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

func TestSubscribeReceivesPublishedCompletion(t *testing.T) {
	bus := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, Completion{TaskID: "t1", State: domain.ResultSuccess}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case c := <-ch:
		if c.TaskID != "t1" || c.State != domain.ResultSuccess {
			t.Fatalf("unexpected completion: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestSubscribeUnregistersOnContextCancel(t *testing.T) {
	bus := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := bus.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bus.mu.Lock()
		n := len(bus.listeners)
		bus.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener was not unregistered after context cancellation")
}
