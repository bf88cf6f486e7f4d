package domain

import "errors"

// Error taxonomy surfaced by the coordinator. Callers match with errors.Is.
var (
	// ErrCaptureUnavailable means the device or file could not be acquired.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrTransport is a connection-level failure, at handshake or mid-stream.
	ErrTransport = errors.New("transport error")
	// ErrNotReady is returned by Send before the handshake has completed.
	ErrNotReady = errors.New("transport not ready")
	// ErrInvalidTransition rejects a lifecycle call in the wrong state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNoActiveSession is returned when an operation needs a live session.
	ErrNoActiveSession = errors.New("no active session")
)
