package server

import (
	"sort"
	"sync"
)

// Registry maps server names to their live Instance. Entries are added on a
// successful start and removed by the monitor once exit is reconciled.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		locks:     make(map[string]*keyLock),
	}
}

// Lock serializes mutating operations on name. Different names never block
// each other. The returned func releases the lock.
func (r *Registry) Lock(name string) func() {
	r.locksMu.Lock()
	kl, ok := r.locks[name]
	if !ok {
		kl = &keyLock{}
		r.locks[name] = kl
	}
	kl.refs++
	r.locksMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.locksMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.locks, name)
		}
		r.locksMu.Unlock()
	}
}

// Create registers inst under name. It returns false if a different live
// instance is already registered.
func (r *Registry) Create(name string, inst *Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instances[name]; ok && existing != inst {
		return false
	}
	r.instances[name] = inst
	return true
}

// Get returns the instance registered under name
func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Remove deletes name only if it still maps to inst, so a late monitor can
// never remove a newer instance. It reports whether an entry was removed.
func (r *Registry) Remove(name string, inst *Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instances[name]; ok && existing == inst {
		delete(r.instances, name)
		return true
	}
	return false
}

// List returns instances sorted by name
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	list := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	return list
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
