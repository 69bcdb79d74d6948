package account

import (
	"strings"
	"sync"
)

// Registry maps normalized account identifiers to their state.
// Entries are created lazily on first login and live for the process
// lifetime.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	logCap   int
}

func NewRegistry(logCap int) *Registry {
	return &Registry{
		accounts: make(map[string]*Account),
		logCap:   logCap,
	}
}

// Normalize maps a client-supplied identifier to its canonical form.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Ensure returns the account for id, creating it if needed.
// Concurrent calls for the same identifier resolve to one Account.
func (r *Registry) Ensure(id string) *Account {
	id = Normalize(id)

	r.mu.RLock()
	a, ok := r.accounts[id]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		return a
	}
	a = newAccount(id, r.logCap)
	r.accounts[id] = a
	return a
}

// ForEach calls fn for every account known at the time of the call.
// The account set is snapshotted first, so fn may attach, detach or
// mutate accounts freely.
func (r *Registry) ForEach(fn func(a *Account)) {
	r.mu.RLock()
	snapshot := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		snapshot = append(snapshot, a)
	}
	r.mu.RUnlock()

	for _, a := range snapshot {
		fn(a)
	}
}

// Len reports how many accounts exist.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
