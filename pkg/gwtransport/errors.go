package gwtransport

import "errors"

// Sentinel errors returned by the UDP/TCP transports and the manager that
// coordinates them.
var (
	ErrClosed          = errors.New("gwtransport: closed")
	ErrInvalidAddress  = errors.New("gwtransport: invalid address")
	ErrNoDispatcher    = errors.New("gwtransport: no dispatcher configured")
	ErrNotStarted      = errors.New("gwtransport: not started")
	ErrAlreadyStarted  = errors.New("gwtransport: already started")
	ErrMessageTooLarge = errors.New("gwtransport: message exceeds maximum size")
	ErrShortHeader     = errors.New("gwtransport: stream closed mid-header")
)
