package governance

import (
	"sort"
	"strings"
	"sync"

	"fixedlend/crypto"
)

// RoleAdmin grants every privileged action.
const RoleAdmin = "admin"

// RoleSet maps roles to the accounts holding them. Actions are authorized
// for admins and for holders of a role named after the action.
type RoleSet struct {
	mu      sync.RWMutex
	holders map[string]map[string]crypto.Address
}

func NewRoleSet() *RoleSet {
	return &RoleSet{holders: make(map[string]map[string]crypto.Address)}
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// Grant adds addr to role and reports whether it was newly granted.
func (r *RoleSet) Grant(role string, addr crypto.Address) bool {
	role = normalizeRole(role)
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.holders[role]
	if !ok {
		members = make(map[string]crypto.Address)
		r.holders[role] = members
	}
	if _, exists := members[addr.Key()]; exists {
		return false
	}
	members[addr.Key()] = addr
	return true
}

// Revoke removes addr from role and reports whether it held the role.
func (r *RoleSet) Revoke(role string, addr crypto.Address) bool {
	role = normalizeRole(role)
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.holders[role]
	if _, exists := members[addr.Key()]; !exists {
		return false
	}
	delete(members, addr.Key())
	return true
}

func (r *RoleSet) HasRole(role string, addr crypto.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holders[normalizeRole(role)][addr.Key()]
	return ok
}

// Members lists the bech32 addresses holding role in lexical order.
func (r *RoleSet) Members(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.holders[normalizeRole(role)]
	out := make([]string, 0, len(members))
	for _, addr := range members {
		out = append(out, addr.String())
	}
	sort.Strings(out)
	return out
}

// Authorized implements the lending engine's authorization predicate.
func (r *RoleSet) Authorized(caller crypto.Address, action string) bool {
	if r == nil || caller.IsZero() {
		return false
	}
	return r.HasRole(RoleAdmin, caller) || r.HasRole(action, caller)
}
