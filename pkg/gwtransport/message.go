package gwtransport

import "github.com/backkem/knxip-gateway/pkg/knxip"

// MaxMessageSize bounds a single KNXnet/IP frame. 512 bytes comfortably
// covers every service body this module parses, including the largest
// secure wrapper carrying a full tunneling request.
const MaxMessageSize = 512

// Dispatcher receives a parsed KNXnet/IP header and its body, already
// sanitized (header-size octet checked, total length within the buffer,
// service type non-zero), for a registered handler to act on. Handled
// reports whether some handler consumed the frame; the UDP loop logs and
// drops it otherwise, and the TCP loop drops it without logging.
type Dispatcher interface {
	Dispatch(h knxip.Header, payload []byte, src PeerAddress) (handled bool)
}

// DispatcherFunc adapts a plain function to a Dispatcher.
type DispatcherFunc func(h knxip.Header, payload []byte, src PeerAddress) bool

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(h knxip.Header, payload []byte, src PeerAddress) bool {
	return f(h, payload, src)
}
