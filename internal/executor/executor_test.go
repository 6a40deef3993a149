package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/filter"
	"github.com/dotcelery/dotcelery/internal/history"
	"github.com/dotcelery/dotcelery/internal/registry"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/serializer"
	"github.com/dotcelery/dotcelery/internal/singleflight"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

func newTestExecutor(t *testing.T, reg *registry.Registry, filters ...filter.Filter) (*Executor, *resultbackend.Memory) {
	t.Helper()
	results := resultbackend.NewMemory()
	revocations := revocation.NewMemory()
	dl := deadletter.New(deadletter.NewMemory(), deadletter.Config{Enabled: true}, noopLogger{}, domain.NewID)
	pipeline := filter.New(slog.Default(), filters...)
	exec := New(reg, pipeline, results, revocations, dl, serializer.JSON{}, Config{}, slog.Default())
	return exec, results
}

type noopLogger struct{}

func (noopLogger) Warn(msg string, args ...any) {}

func echoMessage(task string) domain.TaskMessage {
	return domain.TaskMessage{
		ID:          domain.NewID(),
		Task:        task,
		Args:        []byte(`{"n":1}`),
		ContentType: "application/json",
		Queue:       "default",
		Timestamp:   time.Now(),
		MaxRetries:  3,
	}
}

func TestRunSuccessStoresResult(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "echo",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return args, nil
		},
	})
	exec, results := newTestExecutor(t, reg)

	msg := echoMessage("echo")
	outcome := exec.Run(context.Background(), msg, make(chan struct{}))

	if outcome.State != OutcomeSuccess {
		t.Fatalf("expected success, got %v (err=%v)", outcome.State, outcome.Err)
	}
	stored, err := results.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("expected stored result: %v", err)
	}
	if stored.State != domain.ResultSuccess {
		t.Fatalf("expected ResultSuccess, got %v", stored.State)
	}
	if string(stored.Result) != `{"n":1}` {
		t.Fatalf("unexpected result payload: %s", stored.Result)
	}
}

func TestRunUnknownTaskFails(t *testing.T) {
	reg := registry.New()
	exec, results := newTestExecutor(t, reg)

	msg := echoMessage("nonexistent")
	outcome := exec.Run(context.Background(), msg, make(chan struct{}))

	if outcome.State != OutcomeFailure {
		t.Fatalf("expected failure, got %v", outcome.State)
	}
	stored, _ := results.Get(context.Background(), msg.ID)
	if stored == nil || stored.Exception == nil || stored.Exception.Type != "UnknownTask" {
		t.Fatalf("expected UnknownTask exception, got %+v", stored)
	}
}

func TestRunHandlerErrorRetriesUntilMaxRetries(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "failing",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return nil, errors.New("boom")
		},
	})
	exec, _ := newTestExecutor(t, reg)

	msg := echoMessage("failing")
	msg.MaxRetries = 2

	outcome := exec.Run(context.Background(), msg, make(chan struct{}))
	if outcome.State != OutcomeRetry {
		t.Fatalf("expected retry on first failure, got %v", outcome.State)
	}

	outcome = exec.Run(context.Background(), outcome.RetryMessage, make(chan struct{}))
	if outcome.State != OutcomeFailure {
		t.Fatalf("expected terminal failure after max retries, got %v", outcome.State)
	}
}

func TestRunRetryRequestIsNotAFailure(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "retrying",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return nil, tc.Retry(time.Second, errors.New("try later"))
		},
	})
	exec, _ := newTestExecutor(t, reg)

	msg := echoMessage("retrying")
	outcome := exec.Run(context.Background(), msg, make(chan struct{}))

	if outcome.State != OutcomeRetry {
		t.Fatalf("expected retry, got %v (err=%v)", outcome.State, outcome.Err)
	}
	if outcome.RetryMessage.Retries != 1 {
		t.Fatalf("expected retry to increment attempt count, got %d", outcome.RetryMessage.Retries)
	}
}

func TestRunRevokedTaskNeverInvokesHandler(t *testing.T) {
	reg := registry.New()
	invoked := false
	reg.MustRegister(registry.Registration{
		Name: "should-not-run",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			invoked = true
			return nil, nil
		},
	})

	results := resultbackend.NewMemory()
	revocations := revocation.NewMemory()

	msg := echoMessage("should-not-run")
	revocations.Revoke(context.Background(), msg.ID, revocation.Options{})

	dl := deadletter.New(deadletter.NewMemory(), deadletter.Config{Enabled: true}, noopLogger{}, domain.NewID)
	pipeline := filter.New(slog.Default())
	exec := New(reg, pipeline, results, revocations, dl, serializer.JSON{}, Config{}, slog.Default())

	outcome := exec.Run(context.Background(), msg, make(chan struct{}))
	if outcome.State != OutcomeRevoked {
		t.Fatalf("expected revoked outcome, got %v", outcome.State)
	}
	if invoked {
		t.Fatal("handler must not run for a revoked task")
	}
}

func TestRunRecordsHistoryPerTerminalOutcome(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "echo",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return args, nil
		},
	})
	exec, _ := newTestExecutor(t, reg)
	hist := history.NewMemory()
	exec.SetHistory(hist)

	msg := echoMessage("echo")
	exec.Run(context.Background(), msg, make(chan struct{}))

	records, err := hist.ListByTaskID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one history record, got %d", len(records))
	}
	if records[0].State != domain.ResultSuccess || records[0].TaskName != "echo" {
		t.Fatalf("unexpected history record: %+v", records[0])
	}
}

func TestRunReleasesSingleflightLockAfterHandler(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(registry.Registration{
		Name: "locked",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			return nil, nil
		},
		Policy: registry.Policy{PreventOverlapping: true},
	})

	tracker := singleflight.NewMemory()
	overlap := singleflight.NewPreventOverlappingFilter(tracker, time.Minute, slog.Default())
	exec, _ := newTestExecutor(t, reg, overlap)

	outcome := exec.Run(context.Background(), echoMessage("locked"), make(chan struct{}))
	if outcome.State != OutcomeSuccess {
		t.Fatalf("expected success, got %v (err=%v)", outcome.State, outcome.Err)
	}

	executing, err := tracker.IsExecuting(context.Background(), singleflight.LockKey("locked", ""))
	if err != nil {
		t.Fatalf("is executing: %v", err)
	}
	if executing {
		t.Fatal("expected post-filter to release the single-flight lock")
	}
}

func TestRunSkipsDuplicateUnderSingleflight(t *testing.T) {
	reg := registry.New()
	invocations := 0
	reg.MustRegister(registry.Registration{
		Name: "once",
		Handler: func(tc *taskcontext.Context, args []byte) ([]byte, error) {
			invocations++
			return nil, nil
		},
		Policy: registry.Policy{PreventOverlapping: true},
	})

	tracker := singleflight.NewMemory()
	// Hold the lock as another in-flight task would.
	if _, err := tracker.TryStart(context.Background(), singleflight.LockKey("once", ""), "other-task", time.Minute); err != nil {
		t.Fatal(err)
	}

	overlap := singleflight.NewPreventOverlappingFilter(tracker, time.Minute, slog.Default())
	exec, results := newTestExecutor(t, reg, overlap)

	msg := echoMessage("once")
	outcome := exec.Run(context.Background(), msg, make(chan struct{}))
	if outcome.State != OutcomeSuccess {
		t.Fatalf("expected synthetic success for duplicate, got %v", outcome.State)
	}
	if invocations != 0 {
		t.Fatal("duplicate task must not invoke the handler")
	}
	stored, _ := results.Get(context.Background(), msg.ID)
	if stored == nil || stored.State != domain.ResultSuccess {
		t.Fatalf("expected synthesized Success stored, got %+v", stored)
	}
}

func TestRunExpiredMessageIsRejected(t *testing.T) {
	reg := registry.New()
	exec, results := newTestExecutor(t, reg)

	past := time.Now().Add(-time.Hour)
	msg := echoMessage("whatever")
	msg.Expires = &past

	outcome := exec.Run(context.Background(), msg, make(chan struct{}))
	if outcome.State != OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %v", outcome.State)
	}
	stored, _ := results.Get(context.Background(), msg.ID)
	if stored == nil || stored.State != domain.ResultRejected {
		t.Fatalf("expected ResultRejected stored, got %+v", stored)
	}
}
