package resultbackend

import (
	"context"
	"testing"

	"github.com/dotcelery/dotcelery/internal/domain"
)

func TestMemoryStoreGetDelete(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	result := domain.NewResult("task-1", domain.ResultSuccess)
	if err := b.Store(ctx, result); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := b.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.ResultSuccess {
		t.Fatalf("expected SUCCESS, got %s", got.State)
	}

	if err := b.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "task-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	b := NewMemory()
	if _, err := b.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	result := domain.NewResult("task-2", domain.ResultStarted)
	if err := b.Store(ctx, result); err != nil {
		t.Fatalf("store: %v", err)
	}
	result.State = domain.ResultFailure

	got, err := b.Get(ctx, "task-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.ResultStarted {
		t.Fatalf("mutation of caller's result leaked into store: got %s", got.State)
	}
}
