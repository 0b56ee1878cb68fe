package gwtransport

import (
	"net"
	"sync"

	"github.com/backkem/knxip-gateway/pkg/channel"
	"github.com/backkem/knxip-gateway/pkg/knxip"
)

// DataBinding is one dedicated UDP socket for a single data-endpoint
// channel, mirroring the original implementation's one-DatagramSocket-
// per-endpoint design (original_source DataEndpointServiceHandler.java)
// instead of this module's shared-socket Manager. Device-management
// channels bind one of these rather than sharing the control endpoint's
// transport, which is what makes the §4.1 ETS5 port-mismatch quirk — a
// client addressing a DEVICE_CONFIGURATION_REQ at the wrong channel's
// socket — a real, reachable condition: two channels really do own two
// different sockets, so a request really can land at the wrong one.
//
// handler is mutable and read under a lock so Rebind, which a channel's
// port-mismatch recovery calls through channel.Rebindable, can retarget
// this socket to a different channel once the mismatch is observed,
// without restarting the read loop.
type DataBinding struct {
	udp *UDP

	mu      sync.RWMutex
	handler channel.DataEndpoint
}

// NewDataBinding opens a dedicated UDP socket and wires it to handler.
// handler may be nil and set later with Rebind, letting a caller create
// the socket before the channel that owns it exists.
func NewDataBinding(handler channel.DataEndpoint, cfg UDPConfig) (*DataBinding, error) {
	b := &DataBinding{handler: handler}
	cfg.Dispatcher = DispatcherFunc(func(h knxip.Header, payload []byte, src PeerAddress) bool {
		b.mu.RLock()
		h2 := b.handler
		b.mu.RUnlock()
		if h2 == nil {
			return false
		}
		return h2.AcceptDataService(h, payload)
	})
	udp, err := NewUDP(cfg)
	if err != nil {
		return nil, err
	}
	b.udp = udp
	return b, nil
}

// Rebind retargets this socket's future inbound frames to handler,
// satisfying channel.Rebindable.
func (b *DataBinding) Rebind(handler channel.DataEndpoint) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

// Start begins the socket's read loop.
func (b *DataBinding) Start() error { return b.udp.Start() }

// Stop closes the socket.
func (b *DataBinding) Stop() error { return b.udp.Stop() }

// Send writes a wire-ready datagram to addr, satisfying channel.Sender.
func (b *DataBinding) Send(data []byte, addr net.Addr) error { return b.udp.Send(data, addr) }

// LocalAddr returns the bound local address.
func (b *DataBinding) LocalAddr() net.Addr { return b.udp.LocalAddr() }
