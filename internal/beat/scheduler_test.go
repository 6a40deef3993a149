package beat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/client"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/serializer"
)

func testScheduler(t *testing.T) (*Scheduler, *Memory, *broker.Memory) {
	t.Helper()
	store := NewMemory()
	brk := broker.NewMemory()
	backend := resultbackend.NewMemory()
	c := client.New(brk, nil, serializer.JSON{}, backend, client.Config{DefaultQueue: "default"})
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(store, c, Config{}, logger), store, brk
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestTickDispatchesDueEntryAndReschedules(t *testing.T) {
	sched, store, brk := testScheduler(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	err := store.Save(ctx, Entry{
		ID:        "e1",
		Name:      "nightly-report",
		Task:      "generate_report",
		Args:      []byte(`{}`),
		Queue:     "default",
		CronExpr:  "* * * * *",
		Enabled:   true,
		NextRunAt: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	ch, err := brk.Consume(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case bm := <-ch:
		if bm.Task.Task != "generate_report" {
			t.Fatalf("unexpected dispatched task: %+v", bm.Task)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	updated, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !updated.NextRunAt.After(now) {
		t.Fatalf("expected NextRunAt to advance past %s, got %s", now, updated.NextRunAt)
	}
	if updated.LastRunAt == nil {
		t.Fatal("expected LastRunAt to be set")
	}
}

func TestTickSkipsDisabledAndNotYetDueEntries(t *testing.T) {
	sched, store, brk := testScheduler(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.Save(ctx, Entry{ID: "disabled", Task: "x", CronExpr: "* * * * *", Enabled: false, NextRunAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, Entry{ID: "future", Task: "x", CronExpr: "* * * * *", Enabled: true, NextRunAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	ch, err := brk.Consume(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case bm := <-ch:
		t.Fatalf("expected no dispatch, got %+v", bm.Task)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessEntryRejectsInvalidCronExpr(t *testing.T) {
	sched, store, _ := testScheduler(t)
	ctx := context.Background()

	e := Entry{ID: "bad", Task: "x", CronExpr: "not a cron expr", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	if err := store.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick should swallow per-entry errors, got: %v", err)
	}
}
