package tools

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/burattino/pkg/gateway"
)

// Group is a named set of tools that can be shown to or hidden from the
// model as a unit.
type Group struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Active      bool   `yaml:"active"`
}

// Registry holds tool definitions and group visibility state. All methods
// are safe for concurrent use; running dispatches operate on Snapshots and
// never observe mid-run mutations.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Definition
	groups map[string]Group
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  map[string]Definition{},
		groups: map[string]Group{},
	}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("tool definition needs a name")
	}
	if def.Fn == nil {
		return errors.Errorf("tool %s has no implementation", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		log.Debug().Str("tool", def.Name).Msg("replacing registered tool")
	}
	if def.Group != "" {
		if _, ok := r.groups[def.Group]; !ok {
			// Groups referenced before DefineGroup start active.
			r.groups[def.Group] = Group{Name: def.Group, Active: true}
		}
	}
	r.tools[def.Name] = def
	return nil
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// DefineGroup declares a group. Newly declared groups start active.
func (r *Registry) DefineGroup(name string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		g = Group{Name: name, Active: true}
	}
	g.Description = description
	r.groups[name] = g
}

// SetGroupActive toggles a group's visibility for subsequent snapshots.
func (r *Registry) SetGroupActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		return errors.Errorf("unknown tool group %s", name)
	}
	g.Active = active
	r.groups[name] = g
	return nil
}

// Groups lists the declared groups sorted by name.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names lists every registered tool name sorted alphabetically, including
// tools in inactive groups.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot captures the currently visible tools as an immutable view. A
// dispatch cycle resolves every call against one snapshot, so concurrent
// registry mutations take effect at the next cycle.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := &Snapshot{tools: make(map[string]Definition, len(r.tools))}
	for name, def := range r.tools {
		if def.Group != "" {
			if g, ok := r.groups[def.Group]; ok && !g.Active {
				continue
			}
		}
		snap.tools[name] = def
		snap.names = append(snap.names, name)
	}
	sort.Strings(snap.names)
	return snap
}

// Snapshot is an immutable view of the visible tools at one point in time.
type Snapshot struct {
	tools map[string]Definition
	names []string
}

// Get resolves a tool by name within the snapshot.
func (s *Snapshot) Get(name string) (Definition, bool) {
	def, ok := s.tools[name]
	return def, ok
}

// Names lists the visible tool names in alphabetical order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of visible tools.
func (s *Snapshot) Len() int {
	return len(s.tools)
}

// Schemas builds the advertised tool schemas in alphabetical order.
func (s *Snapshot) Schemas() []gateway.ToolSchema {
	out := make([]gateway.ToolSchema, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.tools[name].Schema())
	}
	return out
}
