package permission

import (
	"errors"
	"sync"
)

const maxBits = 64

var (
	ErrRegistryFrozen    = errors.New("registry frozen")
	ErrPermissionExists  = errors.New("permission already registered")
	ErrPermissionUnknown = errors.New("permission not registered")
	ErrPermissionLimit   = errors.New("permission limit exceeded")
)

// Registry assigns bit positions to permission names. With rootReserved,
// bit 63 is kept for a permission that implies every other one.
type Registry struct {
	rootReserved bool

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

func NewRegistry(rootReserved bool) *Registry {
	return &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
}

// Register assigns the next free bit to name. Registering after Freeze
// fails.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrPermissionExists
	}

	limit := maxBits
	if r.rootReserved {
		limit--
	}
	next := len(r.nameToBit)
	if next >= limit {
		return -1, ErrPermissionLimit
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// RootReserved reports whether bit 63 grants everything.
func (r *Registry) RootReserved() bool {
	return r.rootReserved
}

// Has reports whether mask grants the named permission. Unknown names are
// never granted.
func (r *Registry) Has(mask Mask64, name string) bool {
	bit, ok := r.Bit(name)
	if !ok {
		return false
	}
	return mask.Has(bit, r.rootReserved)
}
