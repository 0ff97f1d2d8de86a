package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes jobs of a single type. Domain packages implement this
// interface so the engine stays decoupled from HR/directory specifics.
//
// Execute decodes job.Payload itself, performs the external mutation(s),
// and returns a JSON result recorded on the job. A returned error marked
// fatal (see Fatal) fails the job immediately; any other error triggers
// the retry transition until attempts are exhausted.
type Handler interface {
	// Type returns the job type this handler executes.
	Type() JobType

	// Execute runs the job and returns a structured result on success.
	Execute(ctx context.Context, job *Job) (json.RawMessage, error)
}

// Registry routes jobs to handlers by type.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	handlers map[JobType]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[JobType]Handler),
	}
}

// Register adds a handler under its type.
// Panics if a handler is already registered for that type.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobType := handler.Type()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("handler already registered for job type: %s", jobType))
	}
	r.handlers[jobType] = handler
}

// Get retrieves the handler for a job type.
// Returns nil if no handler is registered.
func (r *Registry) Get(jobType JobType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks if a handler is registered for a type.
func (r *Registry) Has(jobType JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[jobType]
	return exists
}

// Types returns all registered job types.
func (r *Registry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
