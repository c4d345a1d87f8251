// Package dispatch routes action types to handler functions.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one action. It receives the action payload and
// returns a JSON-compatible result map.
type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry is the action_type to handler table. It is built once at
// startup and passed by reference; tests construct their own with stub
// handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

func (r *Registry) Register(actionType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for actionType. An unknown type is not an
// error: it yields a warning result so new plan vocabulary cannot break
// existing deployments. A handler panic is converted into an error.
func (r *Registry) Dispatch(ctx context.Context, actionType string, payload map[string]any) (result map[string]any, err error) {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	if !ok {
		return map[string]any{"warning": fmt.Sprintf("no handler for action type %q", actionType)}, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler %s panic: %v", actionType, rec)
		}
	}()
	return h(ctx, payload)
}
