package channel

import (
	"time"

	"github.com/backkem/knxip-gateway/pkg/knxip"
)

// featureValue computes the GET response value for a feature id, using
// channel state for the two features that are not fixed (§4.1 table).
func (c *Channel) featureValue(id knxip.FeatureID) []byte {
	switch id {
	case knxip.FeatureIndividualAddress:
		addr := c.AssignedAddress()
		return []byte{byte(addr >> 8), byte(addr)}
	case knxip.FeatureEnableFeatureInfoService:
		c.mu.RLock()
		v := c.enableFeatureInfo
		c.mu.RUnlock()
		return []byte{v}
	default:
		if v, ok := knxip.StaticFeatureValue(id); ok {
			return v
		}
		return nil
	}
}

func (c *Channel) acceptFeatureGet(h knxip.Header, payload []byte) bool {
	fg, err := knxip.ParseFeatureGet(payload)
	if err != nil {
		c.logf("malformed feature-get body: %v", err)
		return true
	}
	if fg.ChannelID != c.id {
		return true
	}
	if !h.CheckVersion() {
		c.Close(InitiatorPeer, CloseReasonVersionMismatch)
		return true
	}

	accept, duplicate := c.sequenceDecision(fg.SeqNumber)
	if !accept {
		c.logf("out-of-window feature-get seq %d (expected %d), ignoring", fg.SeqNumber, c.SeqRecv())
		return true
	}

	resp := knxip.FeatureResponse{
		ConnectionHeader: knxip.ConnectionHeader{ChannelID: c.id, SeqNumber: fg.SeqNumber},
		Feature:          fg.Feature,
		Result:           knxip.FeatureResultSuccess,
		Value:            c.featureValue(fg.Feature),
	}
	if !duplicate {
		c.advanceSeqRecv(time.Now())
	}
	c.sendFeatureResponse(resp)
	return true
}

func (c *Channel) acceptFeatureSet(h knxip.Header, payload []byte) bool {
	fs, err := knxip.ParseFeatureSet(payload)
	if err != nil {
		c.logf("malformed feature-set body: %v", err)
		return true
	}
	if fs.ChannelID != c.id {
		return true
	}
	if !h.CheckVersion() {
		c.Close(InitiatorPeer, CloseReasonVersionMismatch)
		return true
	}

	accept, duplicate := c.sequenceDecision(fs.SeqNumber)
	if !accept {
		c.logf("out-of-window feature-set seq %d (expected %d), ignoring", fs.SeqNumber, c.SeqRecv())
		return true
	}

	var resp knxip.FeatureResponse
	resp.ConnectionHeader = knxip.ConnectionHeader{ChannelID: c.id, SeqNumber: fs.SeqNumber}
	resp.Feature = fs.Feature

	// Only EnableFeatureInfoService is writable; every other feature id
	// is read-only.
	if fs.Feature == knxip.FeatureEnableFeatureInfoService && len(fs.Value) >= 1 {
		c.mu.Lock()
		c.enableFeatureInfo = fs.Value[0]
		c.mu.Unlock()
		resp.Result = knxip.FeatureResultSuccess
		resp.Value = []byte{fs.Value[0]}
	} else {
		resp.Result = knxip.FeatureResultAccessReadOnly
		resp.Value = c.featureValue(fs.Feature)
	}

	if !duplicate {
		c.advanceSeqRecv(time.Now())
	}
	c.sendFeatureResponse(resp)
	return true
}

func (c *Channel) sendFeatureResponse(resp knxip.FeatureResponse) {
	body := resp.Bytes()
	wire := knxip.NewHeader(knxip.SvcTunnelingFeatureRes, len(body)).Bytes(body)
	if err := c.transmit(wire); err != nil {
		c.logf("failed to send feature response: %v", err)
	}
}
