// Package session provides the in-memory browsing context used by the
// headless host and by tests.
package session

import (
	"sync"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// Memory is a Session that evaluates requests against its attached filters.
// It is safe for concurrent use.
type Memory struct {
	name string

	mu      sync.RWMutex
	filters []domain.RequestFilter
	closed  bool
}

// NewMemory returns an open session with no filters.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// Name returns the label the session was created with.
func (m *Memory) Name() string { return m.name }

// AttachFilter adds f. Attaching a filter that is already present is a no-op.
func (m *Memory) AttachFilter(f domain.RequestFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrSessionClosed
	}
	if m.indexOf(f) >= 0 {
		return nil
	}
	m.filters = append(m.filters, f)
	return nil
}

// DetachFilter removes f.
func (m *Memory) DetachFilter(f domain.RequestFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrSessionClosed
	}
	i := m.indexOf(f)
	if i < 0 {
		return domain.ErrFilterNotAttached
	}
	m.filters = append(m.filters[:i], m.filters[i+1:]...)
	return nil
}

// ReplaceFilter swaps old for next in place. Requests see either old or next,
// never both and never neither.
func (m *Memory) ReplaceFilter(old, next domain.RequestFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrSessionClosed
	}
	i := m.indexOf(old)
	if i < 0 {
		return domain.ErrFilterNotAttached
	}
	if j := m.indexOf(next); j >= 0 && j != i {
		// next is already present; just drop old
		m.filters = append(m.filters[:i], m.filters[i+1:]...)
		return nil
	}
	m.filters[i] = next
	return nil
}

func (m *Memory) indexOf(f domain.RequestFilter) int {
	for i, have := range m.filters {
		if have == f {
			return i
		}
	}
	return -1
}

// Check evaluates req against every attached filter and returns the first
// blocking decision. With no filters attached every request is allowed.
func (m *Memory) Check(req domain.Request) domain.BlockDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var allow domain.BlockDecision
	for _, f := range m.filters {
		d := f.Decide(req)
		if d.Blocked {
			return d
		}
		if d.Exception && !allow.Exception {
			allow = d
		}
	}
	return allow
}

// Filters returns a snapshot of the attached filters.
func (m *Memory) Filters() []domain.RequestFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.RequestFilter(nil), m.filters...)
}

// Close drops all filters. Later attach, detach and replace calls return
// domain.ErrSessionClosed.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.filters = nil
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var (
	_ domain.Session       = (*Memory)(nil)
	_ domain.FilterSwapper = (*Memory)(nil)
)
