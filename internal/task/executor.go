package task

import (
	"context"
	"fmt"
	"sync"
)

// Executor carries out a confirmed task's side effect. Implementations must
// be idempotent per task: executing the same task twice must not repeat the
// side effect.
type Executor interface {
	Kind() Kind
	Execute(ctx context.Context, t *Task) error
}

// Registry holds the executor for each task kind.
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[Kind]Executor)}
}

// Register adds an executor. Registering the same kind twice is a
// programming error and panics.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[e.Kind()]; exists {
		panic(fmt.Sprintf("executor already registered for kind %q", e.Kind()))
	}

	r.executors[e.Kind()] = e
}

// Get returns the executor for a kind, or nil when none is registered.
func (r *Registry) Get(kind Kind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.executors[kind]
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}

	return kinds
}
