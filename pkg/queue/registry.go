package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Validatable lets a payload type enforce invariants beyond JSON shape.
// Validate runs after a strict decode, both at enqueue time and before
// the handler is invoked.
type Validatable interface {
	Validate() error
}

type registration struct {
	queue     string
	jobType   string
	handler   Handler
	prototype reflect.Type
}

// Registry maps (queue, job type) pairs to a handler and a payload
// prototype. Registration happens during startup wiring; lookups are
// concurrent with running workers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

func registryKey(queue, jobType string) string {
	return queue + "/" + jobType
}

// Register binds a handler and payload prototype to a (queue, job type)
// pair. The prototype must be a struct or pointer to struct; handlers
// receive a freshly decoded *T regardless of which form was registered.
func (r *Registry) Register(queue, jobType string, prototype any, handler Handler) error {
	if queue == "" || jobType == "" {
		return fmt.Errorf("queue and job type are required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s/%s is nil", queue, jobType)
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("payload prototype for %s/%s is nil", queue, jobType)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("payload prototype for %s/%s must be a struct, got %s", queue, jobType, t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(queue, jobType)
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("job type %s/%s already registered", queue, jobType)
	}
	r.entries[key] = registration{
		queue:     queue,
		jobType:   jobType,
		handler:   handler,
		prototype: t,
	}
	return nil
}

func (r *Registry) lookup(queue, jobType string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[registryKey(queue, jobType)]
	return reg, ok
}

// Queues returns the distinct queue names with at least one registered
// job type, sorted for stable pool startup order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, reg := range r.entries {
		seen[reg.queue] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

// decodePayload unmarshals raw into a new instance of the registered
// prototype. Unknown fields are rejected so schema drift surfaces at
// enqueue time rather than inside a handler.
func (reg registration) decodePayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	payload := reflect.New(reg.prototype).Interface()
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s payload: %w", reg.queue, reg.jobType, err)
	}
	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s/%s payload: %w", reg.queue, reg.jobType, err)
		}
	}
	return payload, nil
}
