package partition

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.TryAcquire(ctx, "acct-7", "task-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = m.TryAcquire(ctx, "acct-7", "task-2", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second holder's acquire to fail while locked")
	}
}

func TestTryAcquireIdempotentReentry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if ok, _ := m.TryAcquire(ctx, "acct-7", "task-1", time.Minute); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	ok, err := m.TryAcquire(ctx, "acct-7", "task-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected idempotent re-entry to succeed: ok=%v err=%v", ok, err)
	}
}

func TestReleaseNonHolderIsNoop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.TryAcquire(ctx, "acct-7", "task-1", time.Minute)

	released, err := m.Release(ctx, "acct-7", "task-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released {
		t.Fatal("expected non-holder release to be a no-op")
	}

	locked, _ := m.IsLocked(ctx, "acct-7")
	if !locked {
		t.Fatal("expected lock to remain held")
	}
}

func TestLockAutoExpires(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }
	ctx := context.Background()

	m.TryAcquire(ctx, "acct-7", "task-1", time.Second)
	m.now = func() time.Time { return base.Add(2 * time.Second) }

	ok, err := m.TryAcquire(ctx, "acct-7", "task-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry to succeed: ok=%v err=%v", ok, err)
	}
}

func TestExtendRefreshesExpiry(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }
	ctx := context.Background()

	m.TryAcquire(ctx, "acct-7", "task-1", time.Second)
	if ok, err := m.Extend(ctx, "acct-7", "task-1", 10*time.Second); err != nil || !ok {
		t.Fatalf("expected extend to succeed: ok=%v err=%v", ok, err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Second) }
	locked, _ := m.IsLocked(ctx, "acct-7")
	if !locked {
		t.Fatal("expected extended lock to still be held")
	}
}
