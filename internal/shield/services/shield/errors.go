package shield

import "errors"

var (
	// ErrAcquisitionFailed is returned by Enable when no engine could be
	// loaded or compiled. The session is left unfiltered.
	ErrAcquisitionFailed = errors.New("engine acquisition failed")
	// ErrRebuildFailed is returned when a refresh could not compile a new
	// engine. The previous engine stays active.
	ErrRebuildFailed = errors.New("engine rebuild failed")
	// ErrNotReady is returned by UpdateListsNow before any engine is active.
	ErrNotReady = errors.New("no active engine")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("shield manager closed")
)
