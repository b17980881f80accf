package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type (
	// Executor is a registered handler owning one or more operations.
	// Executors are instance-scoped: the registry hands out a fresh instance
	// per lookup so per-request state and metrics cannot leak between tasks.
	Executor interface {
		// Name returns the registration name, e.g. "legacy".
		Name() string
		// Execute runs the operation named by ec. Expected failures are
		// returned as failed results; only programmer errors panic.
		Execute(ctx context.Context, ec Context) Result
	}

	// Factory constructs a fresh Executor instance.
	Factory func() Executor

	// Registry maps executor names to factories. Safe for concurrent use;
	// in production it is populated once at worker startup and read-only
	// afterwards.
	Registry struct {
		mu        sync.RWMutex
		factories map[string]Factory
	}
)

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register probes f for its executor name and records the factory. A nil
// factory, a nil executor, an empty name, or a duplicate name fails loudly.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return errors.New("executor factory must not be nil")
	}
	probe := f()
	if probe == nil {
		return errors.New("executor factory returned nil")
	}
	name := strings.TrimSpace(probe.Name())
	if name == "" {
		return errors.New("executor name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("executor %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister calls Register and panics on error. Intended for worker
// startup wiring where a bad registration is unrecoverable.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Get returns a fresh instance of the named executor. The error for an
// unknown name lists every registered name: the usual cause is a worker
// deployment that forgot to wire a plugin package.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no such executor %q; registered executors: [%s]", name, strings.Join(r.List(), " "))
	}
	return f(), nil
}

// List returns the sorted registered names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all registrations. Test support only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]Factory)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by workers.
func Default() *Registry { return defaultRegistry }

// Register records f in the default registry.
func Register(f Factory) error { return defaultRegistry.Register(f) }

// MustRegister records f in the default registry and panics on error.
func MustRegister(f Factory) { defaultRegistry.MustRegister(f) }
