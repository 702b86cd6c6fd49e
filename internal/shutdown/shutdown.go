// Package shutdown holds the graceful-shutdown task registry. Tasks are
// registered by the components that own resources and drained once by the
// process lifecycle, replacing scattered global cleanup state.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/ctxlog"
)

// Task is one cleanup step. It receives the shutdown context and reports
// its own failure; one failing task never prevents the others from running.
type Task func(ctx context.Context) error

// Registry collects named shutdown tasks in registration order.
type Registry struct {
	mu    sync.Mutex
	names []string
	tasks map[string]Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task under name. Registering the same name twice is a
// programming error and is rejected.
func (r *Registry) Register(name string, fn Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("shutdown task %q already registered", name)
	}
	r.names = append(r.names, name)
	r.tasks[name] = fn
	return nil
}

// RunAll executes every registered task in registration order. Every task
// runs regardless of earlier failures; the collected errors are joined.
func (r *Registry) RunAll(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	tasks := make(map[string]Task, len(r.tasks))
	for k, v := range r.tasks {
		tasks[k] = v
	}
	r.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	var errs []error
	for _, name := range names {
		logger.Debug("Running shutdown task.", "task", name)
		if err := tasks[name](ctx); err != nil {
			logger.Error("Shutdown task failed.", "task", name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown task %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Clear drops every registered task.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = nil
	r.tasks = make(map[string]Task)
}

// Len reports the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
