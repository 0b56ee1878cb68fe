package gwtransport

import (
	"net"

	"github.com/backkem/knxip-gateway/pkg/channel"
	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/backkem/knxip-gateway/pkg/secure"
	"github.com/pion/logging"
)

// SecureStore is the narrow capability Router needs from the secure
// session layer: unwrap/terminate session-layer frames and hand back
// whatever plaintext service body, if any, belongs to the channel layer.
type SecureStore interface {
	Accept(h knxip.Header, payload []byte, src net.Addr) (secure.AcceptResult, error)
}

// Router is the service-loop adapter (§4.3): it is handed every sanitized
// frame the shared UDP/TCP transport receives and demultiplexes it first
// to the secure session layer, then, for whatever plaintext body results,
// to the data-endpoint handler owning the frame's channel id.
//
// Device-management channels do not go through Router: each one binds
// its own DataBinding socket (mirroring the original's one-socket-per-
// endpoint design), so a DEVICE_CONFIGURATION_REQ is only ever handed
// straight to whichever channel's socket it physically arrived on. That
// is what makes the §4.1 port-mismatch compatibility quirk reachable —
// see channel.Channel.recoverPortMismatch — where Router's registry-
// lookup dispatch would otherwise always resolve the "correct" channel
// and short-circuit the scenario the quirk exists to handle.
type Router struct {
	store    SecureStore
	registry channel.Registry
	sender   Sender
	log      logging.LeveledLogger
}

// Sender is the narrow transport capability Router needs to deliver a
// secure-layer reply (SESSION_RES, SESSION_STATUS) that is not itself
// produced by a Channel's own Send path.
type Sender interface {
	Send(data []byte, addr net.Addr) error
}

// NewRouter builds a Router from its collaborators. store may be nil to
// run a plaintext-only gateway; registry is required.
func NewRouter(store SecureStore, registry channel.Registry, sender Sender, lf logging.LoggerFactory) *Router {
	r := &Router{store: store, registry: registry, sender: sender}
	if lf != nil {
		r.log = lf.NewLogger("gwtransport-router")
	}
	return r
}

// Dispatch implements Dispatcher.
func (r *Router) Dispatch(h knxip.Header, payload []byte, src PeerAddress) bool {
	if r.store != nil && (h.ServiceType == knxip.SvcSessionReq || h.ServiceType == knxip.SvcSecureWrapper) {
		res, err := r.store.Accept(h, payload, src.Addr)
		if err != nil {
			r.logf("secure layer rejected frame from %v: %v", src, err)
			return true
		}
		if !res.Handled {
			return false
		}
		if res.Reply != nil {
			if err := r.sender.Send(res.Reply, src.Addr); err != nil {
				r.logf("failed to send secure reply to %v: %v", src, err)
			}
		}
		if res.InnerHeader.ServiceType != 0 {
			return r.dispatchToChannel(res.InnerHeader, res.InnerPayload, src)
		}
		return true
	}

	return r.dispatchToChannel(h, payload, src)
}

// dispatchToChannel resolves the channel id embedded in a plaintext
// service body and forwards it to that channel's handler, looked up
// directly rather than broadcast so mismatched channel ids are never
// silently absorbed by the wrong handler.
func (r *Router) dispatchToChannel(h knxip.Header, payload []byte, src PeerAddress) bool {
	id, ok := extractChannelID(h.ServiceType, payload)
	if !ok {
		return false
	}
	ep, ok := r.registry.FindByChannel(id)
	if !ok {
		r.logf("no channel %d registered, dropping service 0x%04x from %v", id, h.ServiceType, src)
		return true
	}
	return ep.AcceptDataService(h, payload)
}

// extractChannelID reads the channel id out of a service body without
// fully parsing it, for the subset of service types the shared transport
// carries: tunneling (each connection's flow is its own, so direct lookup
// is safe there) and connection-state keepalives. Device-management
// service types are deliberately absent — those channels own a dedicated
// DataBinding socket and never reach Router.
func extractChannelID(svc knxip.ServiceType, payload []byte) (uint8, bool) {
	switch svc {
	case knxip.SvcTunnelingReq, knxip.SvcTunnelingAck,
		knxip.SvcTunnelingFeatureGet, knxip.SvcTunnelingFeatureSet:
		if len(payload) < 2 {
			return 0, false
		}
		return payload[1], true
	case knxip.SvcConnectionstateReq:
		if len(payload) < 1 {
			return 0, false
		}
		return payload[0], true
	default:
		return 0, false
	}
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Warnf(format, args...)
	}
}
