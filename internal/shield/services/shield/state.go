package shield

import "time"

// State is the lifecycle phase of a Manager.
type State uint8

const (
	StateUninitialized State = iota
	StateAcquiring
	StateReady
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcquiring:
		return "acquiring"
	case StateReady:
		return "ready"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	State      State
	EngineID   string    // empty until an engine is active
	Sessions   int       // live registered sessions
	Scheduled  bool      // auto-update timer armed
	LastUpdate time.Time // when the active engine was installed
	LastError  string    // most recent acquisition or rebuild failure, cleared on success
	Closed     bool
}
