package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gantryhq/gantry/internal/log"
)

// Registry holds the agent systems known to this process. Systems are
// registered once at startup; lookups are read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	systems map[string]System
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{systems: make(map[string]System)}
}

// Register adds a system. A duplicate name is a startup error: two
// systems answering to the same name would make plan resolution
// ambiguous.
func (r *Registry) Register(sys System) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sys.Name()
	if _, exists := r.systems[name]; exists {
		return fmt.Errorf("agent system %q already registered", name)
	}
	r.systems[name] = sys
	return nil
}

// Lookup resolves a system by name.
func (r *Registry) Lookup(name string) (System, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sys, ok := r.systems[name]
	return sys, ok
}

// Names returns the registered system names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.systems))
	for name := range r.systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin constructors. Each may fail (e.g. unsupported platform); a
// failed constructor is skipped with a log line, never fatal.
var builtins = []func() (System, error){
	newClaudeSystem,
	newCodexSystem,
	newGeminiSystem,
}

// LoadBuiltins registers all built-in systems into reg. Constructor
// failures are logged and skipped; duplicate names surface as errors
// because they indicate a real wiring bug.
func LoadBuiltins(reg *Registry) error {
	for _, construct := range builtins {
		sys, err := construct()
		if err != nil {
			log.Warn("skipping agent system that failed to load", "error", err)
			continue
		}
		if err := reg.Register(sys); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a registry with all built-in systems loaded.
func DefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	if err := LoadBuiltins(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
