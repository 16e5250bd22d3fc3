package tools

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/api"
)

// Registry manages the tools offered to the model.
type Registry interface {
	Register(def *Definition) error
	Get(name string) (*Definition, error)
	List() []*Definition
	Unregister(name string) error

	Clone() Registry
	Merge(other Registry) Registry
}

// InMemoryRegistry is a thread-safe in-memory Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]*Definition),
	}
}

func (r *InMemoryRegistry) Register(def *Definition) error {
	if def == nil {
		return errors.New("tool definition is nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	return nil
}

func (r *InMemoryRegistry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.tools[name]
	if !exists {
		return nil, errors.Errorf("tool not found: %s", name)
	}
	return def, nil
}

func (r *InMemoryRegistry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*Definition, 0, len(r.tools))
	for _, def := range r.tools {
		ret = append(ret, def)
	}
	// Stable order so the serialized tools array is deterministic, which
	// matters for prompt cache identity.
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return errors.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Clone() Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cloned := NewInMemoryRegistry()
	for name, def := range r.tools {
		cloned.tools[name] = def
	}
	return cloned
}

// Merge returns a new registry with tools from both; on conflict the other
// registry wins.
func (r *InMemoryRegistry) Merge(other Registry) Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := NewInMemoryRegistry()
	for name, def := range r.tools {
		merged.tools[name] = def
	}
	for _, def := range other.List() {
		merged.tools[def.Name] = def
	}
	return merged
}

func (r *InMemoryRegistry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// ToAPI converts all registered tools to their wire form, for the request's
// tools array.
func ToAPI(registry Registry) ([]api.Tool, error) {
	defs := registry.List()
	ret := make([]api.Tool, 0, len(defs))
	for _, def := range defs {
		t, err := def.ToAPI()
		if err != nil {
			return nil, err
		}
		ret = append(ret, t)
	}
	return ret, nil
}
