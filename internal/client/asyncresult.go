package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/serializer"
)

// ErrTaskFailed is wrapped with the task's recorded exception when Get is
// called on a non-Success terminal state.
var ErrTaskFailed = errors.New("client: task did not succeed")

// pollInterval governs how often Wait re-checks the result backend.
const pollInterval = 100 * time.Millisecond

// AsyncResult is a handle to one published task's outcome.
type AsyncResult struct {
	taskID  string
	backend resultbackend.Backend
}

// TaskID returns the id of the task this handle observes.
func (a *AsyncResult) TaskID() string { return a.taskID }

// Wait polls the result backend until the task reaches a terminal state or
// timeout elapses (timeout<=0 waits until ctx is done).
func (a *AsyncResult) Wait(ctx context.Context, timeout time.Duration) (*domain.TaskResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := a.backend.Get(ctx, a.taskID)
		if err == nil && result.State.IsTerminal() {
			return result, nil
		}
		if err != nil && !errors.Is(err, resultbackend.ErrNotFound) {
			return nil, fmt.Errorf("client: poll result: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Get waits for a to reach a terminal state and deserializes its payload as
// T. A non-Success terminal state returns ErrTaskFailed wrapping the
// recorded exception message.
func Get[T any](ctx context.Context, a *AsyncResult, ser serializer.Serializer, timeout time.Duration) (T, error) {
	var zero T
	result, err := a.Wait(ctx, timeout)
	if err != nil {
		return zero, err
	}
	if result.State != domain.ResultSuccess {
		msg := string(result.State)
		if result.Exception != nil {
			msg = result.Exception.Type + ": " + result.Exception.Message
		}
		return zero, fmt.Errorf("%w (%s): %s", ErrTaskFailed, a.taskID, msg)
	}
	return serializer.Decode[T](ser, result.Result)
}
