// Package hooks routes named lifecycle events to registered handlers.
package hooks

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to one fired hook.
type Handler interface {
	Handle(ctx context.Context, args any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args any) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, args any) error {
	return f(ctx, args)
}

type registration struct {
	id      string
	handler Handler
}

// Registry maps event names to handlers. Registration ids are deduplicated:
// registering the same id twice is a no-op, and Once lets a handler mark
// itself as fired for the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	handlers map[string][]registration
	fired    map[string]struct{}
	logger   *zap.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string][]registration),
		fired:    make(map[string]struct{}),
		logger:   logger,
	}
}

// Register attaches handler to the named event under a stable id.
// A second registration with the same id is ignored.
func (r *Registry) Register(name, id string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.handlers[name] {
		if reg.id == id {
			r.logger.Debug("hook already registered", zap.String("hook", name), zap.String("id", id))
			return
		}
	}
	r.handlers[name] = append(r.handlers[name], registration{id: id, handler: handler})
}

// Fire dispatches args to all handlers registered for name. Handler errors
// are logged, not propagated: a failing observer must not break the producer.
func (r *Registry) Fire(ctx context.Context, name string, args any) {
	r.mu.Lock()
	regs := append([]registration(nil), r.handlers[name]...)
	r.mu.Unlock()

	for _, reg := range regs {
		if err := reg.handler.Handle(ctx, args); err != nil {
			r.logger.Warn("hook handler failed",
				zap.Error(err),
				zap.String("hook", name),
				zap.String("id", reg.id),
			)
		}
	}
}

// Once reports whether id has already fired, marking it as fired if not.
// Handlers that must run a single time per process call this first.
func (r *Registry) Once(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fired[id]; ok {
		return false
	}
	r.fired[id] = struct{}{}
	return true
}
