package channel

import (
	"net"

	"github.com/backkem/knxip-gateway/pkg/cemi"
	"github.com/backkem/knxip-gateway/pkg/knxip"
)

// Sender is the narrow transport capability a Channel needs: hand a
// wire-ready datagram to an address. gwtransport's UDP, TCP, and Manager
// types satisfy this structurally; tests can supply a fake.
type Sender interface {
	Send(data []byte, addr net.Addr) error
}

// TCPAware is an optional capability a Sender may implement to report
// whether a peer has a registered TCP fallback connection. gwtransport's
// Manager implements it; Send consults it to decide whether a request
// should take the non-blocking TCP path instead of the blocking UDP
// request/ack path.
type TCPAware interface {
	HasPeer(addr net.Addr) bool
}

// SecureWrapper is the narrow capability a Channel needs from the secure
// session store: re-encrypt a plaintext outbound packet under the
// channel's bound session before it is handed to the transport.
type SecureWrapper interface {
	Wrap(sessionID uint16, innerPacket []byte) ([]byte, error)
}

// ControlEndpoint is the collaborator a data-endpoint handler consults for
// the two things that belong to the control endpoint rather than to the
// channel itself: responding to the CONNECTIONSTATE_REQ compatibility
// quirk (§4.1) and reporting the KNX subnet connection status that
// response carries.
type ControlEndpoint interface {
	// Send writes a wire-ready datagram to the client's control endpoint.
	Send(data []byte, addr net.Addr) error

	// SubnetStatus reports the bus connection status byte for channelID,
	// as carried in a CONNECTIONSTATE_RES.
	SubnetStatus(channelID uint8) byte
}

// Bus is the upward channel to the KNX subnet side of the gateway: a
// surrounding program supplies it to receive dispatched cEMI frames and
// reset notifications. It is, with ControlEndpoint and Registry, one of
// the narrow collaborator interfaces this module needs from its
// environment instead of owning the subnet driver itself.
type Bus interface {
	// FrameReceived delivers a cEMI frame a channel has accepted and
	// cleared for upward dispatch.
	FrameReceived(channelID uint8, frame cemi.Frame)

	// ResetRequested fires in addition to FrameReceived when the
	// delivered frame was a Reset.req.
	ResetRequested(channelID uint8)
}

// DataEndpoint is the subset of Channel's behavior the port-mismatch
// recovery path needs from a peer channel: adopt the socket a misdirected
// request actually arrived on, and re-enter the dispatch it was
// originally meant to receive.
type DataEndpoint interface {
	RebindSender(s Sender)
	AcceptDataService(h knxip.Header, payload []byte) bool
}

// Rebindable is an optional capability a Sender may implement: a
// dedicated per-channel socket (gwtransport.DataBinding) that can be told
// to deliver its future inbound frames to a different DataEndpoint. It is
// the other half of the port-mismatch recovery path alongside
// DataEndpoint.RebindSender: RebindSender points the target channel's
// outbound traffic at the socket that received the misdirected frame,
// and Rebind points that socket's future inbound traffic at the target
// channel, so the pair of them keep tracking each other.
type Rebindable interface {
	Rebind(ep DataEndpoint)
}

// Registry locates the data-endpoint handler owning a given channel id,
// mirroring ControlEndpointService.findDataEndpoint in the original
// control-endpoint implementation, which this module does not include.
type Registry interface {
	FindByChannel(id uint8) (DataEndpoint, bool)
}
