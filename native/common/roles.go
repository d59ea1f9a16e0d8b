package common

import "sync"

// RoleSet is an in-memory role registry satisfying RoleView. The daemon
// populates it from configuration; the host environment may substitute its
// own access-control implementation.
type RoleSet struct {
	mu      sync.RWMutex
	members map[string]map[[20]byte]struct{}
}

// NewRoleSet returns an empty registry.
func NewRoleSet() *RoleSet {
	return &RoleSet{members: make(map[string]map[[20]byte]struct{})}
}

// Grant adds the address to the role.
func (r *RoleSet) Grant(role string, addr [20]byte) {
	if r == nil || role == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[role] == nil {
		r.members[role] = make(map[[20]byte]struct{})
	}
	r.members[role][addr] = struct{}{}
}

// Revoke removes the address from the role.
func (r *RoleSet) Revoke(role string, addr [20]byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[role]; ok {
		delete(set, addr)
	}
}

// HasRole implements RoleView.
func (r *RoleSet) HasRole(role string, addr [20]byte) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[role]
	if !ok {
		return false
	}
	_, ok = set[addr]
	return ok
}
