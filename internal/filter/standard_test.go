package filter

import (
	"context"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

func TestSecurityValidationFilterRejectsOversizedPayload(t *testing.T) {
	f := NewSecurityValidationFilter(SecurityConfig{MaxPayloadSizeBytes: 4})
	tc := taskcontext.New(context.Background(), domain.TaskMessage{ID: "t1", Args: []byte("way too big")})

	err := f.OnExecuting(context.Background(), tc, &State{})
	var secErr *SecurityError
	if err == nil {
		t.Fatal("expected security error")
	}
	if !isSecurityError(err, &secErr) {
		t.Fatalf("expected *SecurityError, got %T", err)
	}
}

func isSecurityError(err error, target **SecurityError) bool {
	se, ok := err.(*SecurityError)
	if ok {
		*target = se
	}
	return ok
}

func TestSecurityValidationFilterAllowlist(t *testing.T) {
	f := NewSecurityValidationFilter(SecurityConfig{
		EnforceTaskAllowlist: true,
		AllowedTaskNames:     map[string]bool{"math.add": true},
	})

	allowed := taskcontext.New(context.Background(), domain.TaskMessage{ID: "t1", Task: "math.add"})
	if err := f.OnExecuting(context.Background(), allowed, &State{}); err != nil {
		t.Fatalf("expected allowlisted task to pass, got %v", err)
	}

	denied := taskcontext.New(context.Background(), domain.TaskMessage{ID: "t2", Task: "shell.exec"})
	if err := f.OnExecuting(context.Background(), denied, &State{}); err == nil {
		t.Fatal("expected non-allowlisted task to be rejected")
	}
}

func TestTenantContextFilterPublishesTenantID(t *testing.T) {
	f := NewTenantContextFilter()
	tc := taskcontext.New(context.Background(), domain.TaskMessage{ID: "t1", TenantID: "tenant-a"})

	if err := f.OnExecuting(context.Background(), tc, &State{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok := tc.Property(PropertyTenantID)
	if !ok || v.(string) != "tenant-a" {
		t.Fatalf("expected tenant property, got %v, %v", v, ok)
	}
}

type fakeRecorder struct {
	started   int
	durations []time.Duration
}

func (r *fakeRecorder) ObserveTaskStarted(queue, task string) { r.started++ }
func (r *fakeRecorder) ObserveTaskDuration(queue, task, outcome string, d time.Duration) {
	r.durations = append(r.durations, d)
}

func TestQueueMetricsFilterRecordsStartAndDuration(t *testing.T) {
	rec := &fakeRecorder{}
	f := NewQueueMetricsFilter(rec)
	tc := taskcontext.New(context.Background(), domain.TaskMessage{ID: "t1", Queue: "default", Task: "math.add"})

	if err := f.OnExecuting(context.Background(), tc, &State{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.OnExecuted(context.Background(), tc, &State{})

	if rec.started != 1 {
		t.Fatalf("expected 1 start observation, got %d", rec.started)
	}
	if len(rec.durations) != 1 {
		t.Fatalf("expected 1 duration observation, got %d", len(rec.durations))
	}
}
