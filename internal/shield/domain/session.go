package domain

import "errors"

var (
	// ErrSessionClosed is returned by a Session whose underlying browsing
	// context no longer exists.
	ErrSessionClosed = errors.New("session closed")
	// ErrFilterNotAttached is returned when detaching a filter a session does not hold.
	ErrFilterNotAttached = errors.New("filter not attached to session")
)

// RequestFilter decides whether a request is blocked.
type RequestFilter interface {
	Decide(req Request) BlockDecision
}

// Session is a browsing context on which request filtering can be enabled.
// Implementations must be comparable (typically pointer types): sessions are
// tracked by handle identity.
type Session interface {
	AttachFilter(f RequestFilter) error
	DetachFilter(f RequestFilter) error
}

// FilterSwapper is implemented by sessions that can replace one filter with
// another atomically, so no request is evaluated with neither or both active.
type FilterSwapper interface {
	ReplaceFilter(old, next RequestFilter) error
}
