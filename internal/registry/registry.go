// Package registry maps task names to precompiled handler invocations.
// Registrations are written once at startup and read on every dispatch.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// ErrTaskNotFound is returned when a task name has no registration.
var ErrTaskNotFound = errors.New("registry: task not found")

// ErrDuplicateTask is returned by Register when the name already exists.
var ErrDuplicateTask = errors.New("registry: task already registered")

// Handler is the opaque, reflection-free dispatch closure a registration
// precompiles at startup: it accepts already-deserialized input produced by
// the registration's own decode step and the in-flight invocation context,
// and returns an opaque output value to be serialized by the caller.
type Handler func(tc *taskcontext.Context, args []byte) (result []byte, err error)

// Policy is a task's declared execution policy, read by filters instead of
// reflective attribute discovery.
type Policy struct {
	// PreventOverlapping, if true, enables the single-flight filter for
	// this task.
	PreventOverlapping bool
	// OverlapUserKeyProperty names a ctx.properties key whose value, if
	// present, becomes the single-flight userKey; empty means task-level.
	OverlapUserKeyProperty string
	// RateLimit, if non-nil, enables the rate-limit filter.
	RateLimit *RateLimitPolicy
	// Partitioned, if true, enables the partition-lock filter using the
	// message's partitionKey.
	Partitioned bool
}

// RateLimitPolicy bounds admissions for a task's resource key.
type RateLimitPolicy struct {
	ResourceKey string
	Limit       int
	Window      time.Duration
}

// Registration is one registered task.
type Registration struct {
	Name    string
	Handler Handler
	Policy  Policy
}

// Registry is a thread-safe, write-mostly-at-startup map from task name to
// Registration.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Registration
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]Registration)}
}

// Register adds reg. Re-registering an existing name is an error; task
// names must be unique.
func (r *Registry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[reg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, reg.Name)
	}
	r.tasks[reg.Name] = reg
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Get returns the registration for name, or ErrTaskNotFound.
func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tasks[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return reg, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
