// Package taskcontext provides the read-only envelope view and limited
// mutation capabilities (progress, state updates, retry requests) a handler
// receives per invocation.
package taskcontext

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// RetryRequest is raised by Retry to signal the executor a retry is wanted.
// It is not a handler error: the executor recognizes it by type and never
// surfaces it as a Failure.
type RetryRequest struct {
	Countdown time.Duration
	Cause     error
}

func (r *RetryRequest) Error() string {
	if r.Cause != nil {
		return "retry requested: " + r.Cause.Error()
	}
	return "retry requested"
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (r *RetryRequest) Unwrap() error { return r.Cause }

// StateUpdate is recorded by UpdateState for the executor to relay to the
// result backend without waiting for the handler to finish.
type StateUpdate struct {
	State    domain.ResultState
	Metadata map[string]any
}

// Context is the capability object passed to every Handler invocation.
type Context struct {
	ctx context.Context
	msg domain.TaskMessage

	mu           sync.Mutex
	properties   map[string]any
	stateUpdates []StateUpdate
}

// New builds a Context wrapping msg for one invocation. ctx carries the
// linked cancellation token (worker-stop + per-task timeout + revocation).
func New(ctx context.Context, msg domain.TaskMessage) *Context {
	return &Context{ctx: ctx, msg: msg, properties: make(map[string]any)}
}

// Rebind swaps the wrapped context.Context, keeping the envelope, the
// properties bag, and any recorded state updates. The executor calls it
// between the pre-filter phase and handler invocation to apply the
// handler's deadline; it must not be called while the handler is running.
func (c *Context) Rebind(ctx context.Context) {
	c.ctx = ctx
}

// Deadline/Done/Err/Value implement context.Context so handlers can pass a
// *Context anywhere a context.Context is expected.
func (c *Context) Deadline() (time.Time, bool) { return c.ctx.Deadline() }
func (c *Context) Done() <-chan struct{}       { return c.ctx.Done() }
func (c *Context) Err() error                  { return c.ctx.Err() }
func (c *Context) Value(key any) any           { return c.ctx.Value(key) }

func (c *Context) TaskID() string        { return c.msg.ID }
func (c *Context) TaskName() string      { return c.msg.Task }
func (c *Context) Queue() string         { return c.msg.Queue }
func (c *Context) Retries() int          { return c.msg.Retries }
func (c *Context) MaxRetries() int       { return c.msg.MaxRetries }
func (c *Context) SentAt() time.Time     { return c.msg.Timestamp }
func (c *Context) ETA() *time.Time       { return c.msg.ETA }
func (c *Context) Expires() *time.Time   { return c.msg.Expires }
func (c *Context) ParentID() string      { return c.msg.ParentID }
func (c *Context) RootID() string        { return c.msg.RootID }
func (c *Context) CorrelationID() string { return c.msg.CorrelationID }
func (c *Context) TenantID() string      { return c.msg.TenantID }
func (c *Context) PartitionKey() string  { return c.msg.PartitionKey }
func (c *Context) Headers() map[string]string {
	return c.msg.Headers
}

// Message returns the underlying envelope the filter pipeline and executor
// operate on; handlers should prefer the typed accessors above.
func (c *Context) Message() domain.TaskMessage { return c.msg }

// Property reads a value set earlier in the pipeline, by this or any prior
// filter.
func (c *Context) Property(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.properties[key]
	return v, ok
}

// SetProperty writes a value into the Properties bag.
func (c *Context) SetProperty(key string, value any) {
	c.mu.Lock()
	c.properties[key] = value
	c.mu.Unlock()
}

// ReportProgress records a progress update for observers to poll; it does
// not itself change the terminal result state.
func (c *Context) ReportProgress(percent int, message string) {
	c.UpdateState(domain.ResultStarted, map[string]any{
		"progress_percent": percent,
		"progress_message": message,
	})
}

// UpdateState appends an intermediate state update the executor relays to
// the result backend. It does not end the invocation.
func (c *Context) UpdateState(state domain.ResultState, metadata map[string]any) {
	c.mu.Lock()
	c.stateUpdates = append(c.stateUpdates, StateUpdate{State: state, Metadata: metadata})
	c.mu.Unlock()
}

// DrainStateUpdates returns and clears the accumulated intermediate state
// updates, for the executor to relay after the handler returns.
func (c *Context) DrainStateUpdates() []StateUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	updates := c.stateUpdates
	c.stateUpdates = nil
	return updates
}

// Retry raises a RetryRequest. Handlers call `return ctx.Retry(countdown, cause)`
// to request a retry without it being classified as a handler failure.
func (c *Context) Retry(countdown time.Duration, cause error) error {
	return &RetryRequest{Countdown: countdown, Cause: cause}
}

// AsRetryRequest reports whether err (or something it wraps) is a
// RetryRequest, returning it for the executor to read Countdown/Cause.
func AsRetryRequest(err error) (*RetryRequest, bool) {
	var rr *RetryRequest
	if errors.As(err, &rr) {
		return rr, true
	}
	return nil, false
}
