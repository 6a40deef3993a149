package taskcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

func TestPropertiesRoundTrip(t *testing.T) {
	tc := New(context.Background(), domain.TaskMessage{ID: "t1"})

	if _, ok := tc.Property("missing"); ok {
		t.Fatal("expected missing property to be absent")
	}

	tc.SetProperty("key", 42)
	v, ok := tc.Property("key")
	if !ok || v.(int) != 42 {
		t.Fatalf("expected property 42, got %v, %v", v, ok)
	}
}

func TestRetryIsRecognizable(t *testing.T) {
	tc := New(context.Background(), domain.TaskMessage{ID: "t1"})
	cause := errors.New("rate limited")

	err := tc.Retry(5*time.Second, cause)

	rr, ok := AsRetryRequest(err)
	if !ok {
		t.Fatal("expected err to be a RetryRequest")
	}
	if rr.Countdown != 5*time.Second {
		t.Fatalf("unexpected countdown: %v", rr.Countdown)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected RetryRequest to wrap cause")
	}
}

func TestDrainStateUpdates(t *testing.T) {
	tc := New(context.Background(), domain.TaskMessage{ID: "t1"})
	tc.ReportProgress(50, "halfway")

	updates := tc.DrainStateUpdates()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].Metadata["progress_percent"] != 50 {
		t.Fatalf("unexpected metadata: %+v", updates[0].Metadata)
	}

	if remaining := tc.DrainStateUpdates(); len(remaining) != 0 {
		t.Fatalf("expected drain to clear updates, got %d remaining", len(remaining))
	}
}

func TestAccessors(t *testing.T) {
	msg := domain.TaskMessage{
		ID: "t1", Task: "math.add", Queue: "default",
		Retries: 1, MaxRetries: 3, PartitionKey: "acct-7",
	}
	tc := New(context.Background(), msg)

	if tc.TaskID() != "t1" || tc.TaskName() != "math.add" || tc.Queue() != "default" {
		t.Fatal("unexpected envelope accessors")
	}
	if tc.Retries() != 1 || tc.MaxRetries() != 3 {
		t.Fatal("unexpected retry accessors")
	}
	if tc.PartitionKey() != "acct-7" {
		t.Fatal("unexpected partition key")
	}
}
