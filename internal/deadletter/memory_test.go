package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

type noopLogger struct{}

func (noopLogger) Warn(msg string, args ...any) {}

func TestHandleRecordsWhenEnabled(t *testing.T) {
	store := NewMemory()
	h := New(store, Config{Enabled: true}, noopLogger{}, func() string { return "dl-1" })

	err := h.Handle(context.Background(), domain.TaskMessage{ID: "t1"}, ReasonMaxRetriesExceeded, &domain.Exception{Type: "Boom"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	entries := store.Entries()
	if len(entries) != 1 || entries[0].Reason != ReasonMaxRetriesExceeded {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestHandleSkipsWhenDisabled(t *testing.T) {
	store := NewMemory()
	h := New(store, Config{Enabled: false}, noopLogger{}, func() string { return "dl-1" })

	if err := h.Handle(context.Background(), domain.TaskMessage{ID: "t1"}, ReasonUnknownTask, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.Entries()) != 0 {
		t.Fatal("expected no entries when disabled")
	}
}

func TestHandleFiltersByReason(t *testing.T) {
	store := NewMemory()
	h := New(store, Config{Enabled: true, Reasons: map[Reason]bool{ReasonUnknownTask: true}}, noopLogger{}, func() string { return "dl-1" })

	h.Handle(context.Background(), domain.TaskMessage{ID: "t1"}, ReasonExpiredMessage, nil)
	if len(store.Entries()) != 0 {
		t.Fatal("expected non-listed reason to be skipped")
	}

	h.Handle(context.Background(), domain.TaskMessage{ID: "t2"}, ReasonUnknownTask, nil)
	if len(store.Entries()) != 1 {
		t.Fatal("expected listed reason to be recorded")
	}
}

func TestHandleWithNilStoreDoesNotPanic(t *testing.T) {
	h := New(nil, Config{Enabled: true}, noopLogger{}, func() string { return "dl-1" })
	if err := h.Handle(context.Background(), domain.TaskMessage{ID: "t1"}, ReasonUnprocessable, nil); err != nil {
		t.Fatalf("expected nil-store handle to log and drop, got %v", err)
	}
}

func TestCleanupRemovesOldEntries(t *testing.T) {
	store := NewMemory()
	now := time.Now()
	store.Save(context.Background(), Entry{ID: "old", CreatedAt: now.Add(-48 * time.Hour)})
	store.Save(context.Background(), Entry{ID: "new", CreatedAt: now})

	removed, err := store.Cleanup(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if len(store.Entries()) != 1 || store.Entries()[0].ID != "new" {
		t.Fatalf("unexpected remaining entries: %+v", store.Entries())
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	store.Save(ctx, Entry{ID: "a"})
	store.Save(ctx, Entry{ID: "b"})
	store.Save(ctx, Entry{ID: "c"})

	got, err := store.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected page: %+v", got)
	}

	got, err = store.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("list with offset: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected offset page: %+v", got)
	}
}
