package channel

import (
	"time"

	"github.com/backkem/knxip-gateway/pkg/cemi"
	"github.com/backkem/knxip-gateway/pkg/knxip"
)

// AcceptDataService consumes an inbound packet whose outer session layer
// (if any) has already been stripped. It returns false only when the
// service type is not one this handler owns, letting the loop adapter try
// another dispatcher.
func (c *Channel) AcceptDataService(h knxip.Header, payload []byte) bool {
	switch h.ServiceType {
	case knxip.SvcTunnelingReq:
		return c.acceptRequest(h, payload, true)
	case knxip.SvcDeviceConfigurationReq:
		return c.acceptRequest(h, payload, false)
	case knxip.SvcTunnelingAck:
		return c.acceptAck(h, payload)
	case knxip.SvcDeviceConfigurationAck:
		return c.acceptAck(h, payload)
	case knxip.SvcTunnelingFeatureGet:
		return c.acceptFeatureGet(h, payload)
	case knxip.SvcTunnelingFeatureSet:
		return c.acceptFeatureSet(h, payload)
	case knxip.SvcConnectionstateReq:
		return c.acceptConnectionState(h, payload)
	default:
		return false
	}
}

func (c *Channel) acceptRequest(h knxip.Header, payload []byte, tunneling bool) bool {
	req, err := knxip.ParseRequest(payload)
	if err != nil {
		c.logf("malformed request body: %v", err)
		return true
	}

	if req.ChannelID != c.id {
		if !tunneling {
			return c.recoverPortMismatch(h, payload, req.ChannelID)
		}
		c.logf("tunneling request for channel %d delivered to handler for channel %d", req.ChannelID, c.id)
		return true
	}

	ackSvc := knxip.SvcTunnelingAck
	if !tunneling {
		ackSvc = knxip.SvcDeviceConfigurationAck
	}

	if !h.CheckVersion() {
		c.sendAck(ackSvc, req.SeqNumber, knxip.ErrVersionNotSupported)
		c.Close(InitiatorPeer, CloseReasonVersionMismatch)
		return true
	}

	accept, duplicate := c.sequenceDecision(req.SeqNumber)
	if !accept {
		c.logf("out-of-window request seq %d (expected %d), ignoring", req.SeqNumber, c.SeqRecv())
		return true
	}

	c.sendAck(ackSvc, req.SeqNumber, knxip.ErrNoError)
	if duplicate {
		return true
	}

	c.advanceSeqRecv(time.Now())

	frame, err := cemi.Parse(req.CEMI)
	if err != nil {
		// Empty/broken cEMI silently returns after the ack.
		return true
	}
	c.dispatchInbound(frame)
	return true
}

func (c *Channel) sendAck(svc knxip.ServiceType, seq uint8, status byte) {
	body := knxip.Ack{
		ConnectionHeader: knxip.ConnectionHeader{ChannelID: c.id, SeqNumber: seq},
		Status:           status,
	}.Bytes()
	wire := knxip.NewHeader(svc, len(body)).Bytes(body)
	if err := c.transmit(wire); err != nil {
		c.logf("failed to send ack: %v", err)
	}
}

func (c *Channel) acceptAck(h knxip.Header, payload []byte) bool {
	ack, err := knxip.ParseAck(payload)
	if err != nil {
		c.logf("malformed ack body: %v", err)
		return true
	}
	if ack.ChannelID != c.id {
		return true
	}

	c.mu.Lock()
	expected := c.seqSend
	if ack.SeqNumber != expected {
		c.mu.Unlock()
		c.logf("unexpected ack seq %d (expected %d), ignoring", ack.SeqNumber, expected)
		return true
	}
	if !h.CheckVersion() {
		c.mu.Unlock()
		c.Close(InitiatorPeer, CloseReasonVersionMismatch)
		return true
	}
	c.seqSend++
	pending := c.pendingAck
	if ack.Status != knxip.ErrNoError {
		c.state = StateAckError
	} else {
		c.state = StateOK
	}
	c.mu.Unlock()

	if pending != nil {
		select {
		case pending <- ackResult{status: ack.Status}:
		default:
		}
	}
	return true
}

// recoverPortMismatch implements the §4.1 compatibility quirk: an ETS5
// client that keeps addressing device-management requests meant for
// channel targetChannel at this channel's dedicated socket instead of its
// own. The target channel adopts this socket for all further traffic
// (RebindSender), the socket is told to deliver future inbound frames to
// the target channel instead of to c (Rebind), and the packet that
// exposed the mismatch is re-dispatched there immediately.
func (c *Channel) recoverPortMismatch(h knxip.Header, payload []byte, targetChannel uint8) bool {
	if c.registry == nil {
		c.logf("device-configuration request for channel %d but no registry configured", targetChannel)
		return true
	}
	ep, ok := c.registry.FindByChannel(targetChannel)
	if !ok {
		c.logf("device-configuration request for unknown channel %d", targetChannel)
		return true
	}
	c.mu.RLock()
	sender := c.dataSender
	c.mu.RUnlock()
	ep.RebindSender(sender)
	if socket, ok := sender.(Rebindable); ok {
		socket.Rebind(ep)
	}
	return ep.AcceptDataService(h, payload)
}
