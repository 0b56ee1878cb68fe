package channel

import "errors"

// Sentinel errors surfaced to a Send caller. Errors tied to a producer
// call (timeout, closed) propagate; local protocol errors (format,
// version, sequence) are handled in place by AcceptDataService.
var (
	ErrFrameTypeMismatch = errors.New("channel: cEMI frame class disallowed for this channel's role")
	ErrClosed            = errors.New("channel: connection is closed")
	ErrSendTimeout       = errors.New("channel: timed out waiting for acknowledgment")
	ErrAckError          = errors.New("channel: peer acknowledged with a non-success status")
	ErrNoSender          = errors.New("channel: no transport sender configured for this destination")
)
