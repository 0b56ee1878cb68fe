package channel

import "github.com/backkem/knxip-gateway/pkg/knxip"

// acceptConnectionState implements the §4.1 compatibility quirk: a
// CONNECTIONSTATE_REQ delivered to the data endpoint (the real protocol
// places it on the control endpoint) is accepted here, validated, and
// answered by sending a CONNECTIONSTATE_RES to the control endpoint
// rather than the data endpoint.
func (c *Channel) acceptConnectionState(h knxip.Header, payload []byte) bool {
	req, err := knxip.ParseConnectionstateReq(payload)
	if err != nil {
		c.logf("malformed connectionstate request: %v", err)
		return true
	}
	if req.ChannelID != c.id {
		// Not addressed to this channel; let another handler try.
		return false
	}
	if !h.CheckVersion() {
		c.Close(InitiatorPeer, CloseReasonVersionMismatch)
		return true
	}
	if req.CtrlHPAI.Protocol != knxip.HostProtocolIPv4UDP {
		c.replyConnectionState(knxip.ErrHostProtocolType)
		return true
	}

	status := knxip.ErrNoError
	if c.ctrl != nil {
		status = c.ctrl.SubnetStatus(c.id)
	}
	c.replyConnectionState(status)
	return true
}

func (c *Channel) replyConnectionState(status byte) {
	if c.ctrl == nil {
		c.logf("cannot send connectionstate response: no control endpoint configured")
		return
	}
	body := knxip.ConnectionstateRes{ChannelID: c.id, Status: status}.Bytes()
	wire := knxip.NewHeader(knxip.SvcConnectionstateRes, len(body)).Bytes(body)
	if err := c.ctrl.Send(wire, c.remoteControl); err != nil {
		c.logf("failed to send connectionstate response: %v", err)
	}
}
