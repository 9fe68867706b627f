package permission

import (
	"errors"
	"sync"
)

// Groups maps user group names to permission masks. A user in several
// groups gets the union of their masks.
type Groups struct {
	registry *Registry

	mu     sync.RWMutex
	groups map[string]Mask64
	frozen bool
}

func NewGroups(registry *Registry) *Groups {
	return &Groups{
		registry: registry,
		groups:   make(map[string]Mask64),
	}
}

// Define sets the permissions of a group. Every name must be registered.
func (g *Groups) Define(group string, permissionNames []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return errors.New("groups frozen")
	}
	if group == "" {
		return errors.New("group name empty")
	}
	if _, exists := g.groups[group]; exists {
		return errors.New("group already defined: " + group)
	}

	var mask Mask64
	for _, name := range permissionNames {
		bit, ok := g.registry.Bit(name)
		if !ok {
			return errors.New("permission not registered: " + name)
		}
		mask.Set(bit)
	}
	g.groups[group] = mask
	return nil
}

// Mask returns the union of the masks of groups. Unknown groups add
// nothing.
func (g *Groups) Mask(groups []string) Mask64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out Mask64
	for _, name := range groups {
		out |= g.groups[name]
	}
	return out
}

func (g *Groups) Freeze() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen = true
}

func (g *Groups) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}
