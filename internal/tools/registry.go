// Package tools holds the tool registry and the permission gateway that
// decides whether a caller's granted scopes cover a tool.
package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// MaxToolNameLength bounds registered tool names.
const MaxToolNameLength = 64

// Registry holds tool descriptors. Tools are registered during startup; Freeze
// ends that phase, after which the registry is read-only and lookups take no
// lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	frozen atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor. It fails with ErrDuplicateTool when the name is
// taken and ErrRegistryFrozen once the registry is frozen.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name %q exceeds %d characters", name, MaxToolNameLength)
	}
	if d.Invoker == nil {
		return fmt.Errorf("tool %s: invoker is required", name)
	}
	d.Name = name
	if err := d.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = d
	return nil
}

// MustRegister is Register for static catalogs; it panics on error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Freeze ends the construction phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the descriptor for name or ErrToolNotFound.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	var (
		d  *Descriptor
		ok bool
	)
	if r.frozen.Load() {
		d, ok = r.tools[name]
	} else {
		r.mu.RLock()
		d, ok = r.tools[name]
		r.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// Catalog returns the tools whose required scopes are all granted, sorted by
// name. A nil granted set returns every tool.
func (r *Registry) Catalog(granted models.ScopeSet) []*Descriptor {
	all := r.all()
	out := make([]*Descriptor, 0, len(all))
	for _, d := range all {
		if granted == nil || Authorize(granted, d).Allowed {
			out = append(out, d)
		}
	}
	return out
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	all := r.all()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r.frozen.Load() {
		return len(r.tools)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func (r *Registry) all() []*Descriptor {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Decision is the gateway verdict for one tool and one set of granted scopes.
type Decision struct {
	Allowed bool
	Missing []models.Scope
}

// Authorize checks that every scope the descriptor requires is granted. It has
// no side effects.
func Authorize(granted models.ScopeSet, d *Descriptor) Decision {
	if d == nil {
		return Decision{}
	}
	missing := granted.Missing(d.Scopes)
	if len(missing) > 0 {
		return Decision{Allowed: false, Missing: missing}
	}
	return Decision{Allowed: true}
}

// String renders the decision for logs and observations.
func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny(" + models.JoinScopes(d.Missing) + ")"
}
