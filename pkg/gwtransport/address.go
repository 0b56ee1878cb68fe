package gwtransport

import (
	"fmt"
	"net"
)

// PeerAddress identifies a remote peer together with the transport kind a
// reply to it should use, mirroring the HPAI's protocol octet carried on
// the wire.
type PeerAddress struct {
	Addr      net.Addr
	Transport TransportType
}

// String renders the peer address for logging.
func (p PeerAddress) String() string {
	if p.Addr == nil {
		return fmt.Sprintf("%s:<nil>", p.Transport)
	}
	return fmt.Sprintf("%s:%s", p.Transport, p.Addr.String())
}

// IsValid reports whether the peer address carries both a transport kind
// and an address.
func (p PeerAddress) IsValid() bool {
	return p.Transport.IsValid() && p.Addr != nil
}

// NewUDPPeerAddress builds a PeerAddress for a UDP-sourced datagram.
func NewUDPPeerAddress(addr net.Addr) PeerAddress {
	return PeerAddress{Addr: addr, Transport: TransportTypeUDP}
}

// NewTCPPeerAddress builds a PeerAddress for a TCP-sourced frame.
func NewTCPPeerAddress(addr net.Addr) PeerAddress {
	return PeerAddress{Addr: addr, Transport: TransportTypeTCP}
}
