package shield

import (
	"sync"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// SessionID is a stable handle into a Registry.
type SessionID uint64

type registryEntry struct {
	session domain.Session
	valid   bool
}

// Registry tracks the sessions filtering is enabled on, in registration
// order. Entries are never removed; sessions that go away are invalidated
// and skipped by ForEach.
type Registry struct {
	mu      sync.RWMutex
	entries []registryEntry
	ids     map[domain.Session]SessionID
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[domain.Session]SessionID)}
}

// Add registers s and reports whether it was newly added. Adding a live
// session again returns its existing ID. Adding an invalidated session
// revives its entry.
func (r *Registry) Add(s domain.Session) (SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[s]; ok {
		e := &r.entries[id]
		if e.valid {
			return id, false
		}
		e.valid = true
		return id, true
	}
	id := SessionID(len(r.entries))
	r.entries = append(r.entries, registryEntry{session: s, valid: true})
	r.ids[s] = id
	return id, true
}

// Lookup returns the ID of s if it is registered and live.
func (r *Registry) Lookup(s domain.Session) (SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[s]
	if !ok || !r.entries[id].valid {
		return 0, false
	}
	return id, true
}

// Invalidate marks id dead. Unknown IDs are ignored.
func (r *Registry) Invalidate(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < len(r.entries) {
		r.entries[id].valid = false
	}
}

// ForEach calls fn for every live session in registration order. It works on
// a snapshot, so fn may call back into the Registry.
func (r *Registry) ForEach(fn func(id SessionID, s domain.Session)) {
	r.mu.RLock()
	snap := make([]registryEntry, len(r.entries))
	copy(snap, r.entries)
	r.mu.RUnlock()

	for i, e := range snap {
		if e.valid {
			fn(SessionID(i), e.session)
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.valid {
			n++
		}
	}
	return n
}
