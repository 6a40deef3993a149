package client

import (
	"context"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/serializer"
)

type greeting struct {
	Name string `json:"name"`
}

func TestSendPublishesToBroker(t *testing.T) {
	brk := broker.NewMemory()
	backend := resultbackend.NewMemory()
	c := New(brk, nil, serializer.JSON{}, backend, Config{DefaultQueue: "default"})

	ar, err := c.Send(context.Background(), "send_greeting", greeting{Name: "ada"}, SendOptions{MaxRetries: 3, Priority: 5})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ar.TaskID() == "" {
		t.Fatal("expected a minted task id")
	}

	ch, err := brk.Consume(context.Background(), []string{"default"}, 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case bm := <-ch:
		if bm.Task.Task != "send_greeting" || bm.Task.MaxRetries != 3 || bm.Task.Priority != 5 {
			t.Fatalf("unexpected published message: %+v", bm.Task)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestSendRejectsInvalidOptions(t *testing.T) {
	brk := broker.NewMemory()
	backend := resultbackend.NewMemory()
	c := New(brk, nil, serializer.JSON{}, backend, Config{DefaultQueue: "default"})

	_, err := c.Send(context.Background(), "send_greeting", greeting{Name: "ada"}, SendOptions{Priority: 99})
	if err == nil {
		t.Fatal("expected an error for out-of-range priority")
	}
}

func TestSendRejectsExpiresBeforeETA(t *testing.T) {
	brk := broker.NewMemory()
	backend := resultbackend.NewMemory()
	c := New(brk, nil, serializer.JSON{}, backend, Config{DefaultQueue: "default"})

	eta := time.Now().Add(time.Hour)
	expires := time.Now().Add(time.Minute)
	_, err := c.Send(context.Background(), "send_greeting", greeting{Name: "ada"}, SendOptions{ETA: &eta, Expires: &expires})
	if err == nil {
		t.Fatal("expected an error for expires before eta")
	}
}

func TestWaitAndGetDeserializeSuccess(t *testing.T) {
	backend := resultbackend.NewMemory()
	ar := &AsyncResult{taskID: "task-1", backend: backend}

	go func() {
		time.Sleep(50 * time.Millisecond)
		payload, _ := serializer.JSON{}.Marshal(greeting{Name: "grace"})
		_ = backend.Store(context.Background(), &domain.TaskResult{
			TaskID: "task-1",
			State:  domain.ResultSuccess,
			Result: payload,
		})
	}()

	got, err := Get[greeting](context.Background(), ar, serializer.JSON{}, 2*time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "grace" {
		t.Fatalf("expected name grace, got %q", got.Name)
	}
}

func TestGetReturnsErrTaskFailedOnFailure(t *testing.T) {
	backend := resultbackend.NewMemory()
	ar := &AsyncResult{taskID: "task-2", backend: backend}
	_ = backend.Store(context.Background(), &domain.TaskResult{
		TaskID:    "task-2",
		State:     domain.ResultFailure,
		Exception: &domain.Exception{Type: "ValueError", Message: "bad input"},
	})

	_, err := Get[greeting](context.Background(), ar, serializer.JSON{}, time.Second)
	if err == nil {
		t.Fatal("expected an error for failed task")
	}
}
