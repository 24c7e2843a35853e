package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one kind of job. Execute receives the sanitized payload
// via the job row and returns an optional result document. The context
// carries the per-job timeout; well-behaved handlers check it at their own
// safe points, but the runner never forcibly interrupts one that does not.
type Handler interface {
	Execute(ctx context.Context, job *JobRun) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *JobRun) (json.RawMessage, error)

func (f HandlerFunc) Execute(ctx context.Context, job *JobRun) (json.RawMessage, error) {
	return f(ctx, job)
}

// Registry maps job types to handlers. Registration happens at process
// startup; duplicate registration is a programming error and panics.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type.
func (r *Registry) Register(jobType string, h Handler) {
	if jobType == "" {
		panic("jobs: cannot register handler for empty job type")
	}
	if h == nil {
		panic(fmt.Sprintf("jobs: nil handler for job type %q", jobType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("jobs: handler already registered for job type %q", jobType))
	}
	r.handlers[jobType] = h
}

// RegisterFunc binds a plain function to a job type.
func (r *Registry) RegisterFunc(jobType string, f HandlerFunc) {
	r.Register(jobType, f)
}

// Get returns the handler for a job type, or nil when none is registered.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
