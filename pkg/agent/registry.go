package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent names to their handlers. Registration happens at
// startup; lookups happen on every execution.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Handler)}
}

// Register binds a handler to an agent name. Duplicate names are
// rejected so a misconfigured composition root fails loudly at startup.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("agent name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("agent %q: handler must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q is already registered", name)
	}
	r.agents[name] = h
	return nil
}

// Names returns all registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.agents[name]
	return h, ok
}
