package channel

import (
	"time"

	"github.com/backkem/knxip-gateway/pkg/cemi"
	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/cenkalti/backoff"
)

// Send submits a cEMI frame from the bus driver for delivery to this
// channel's client. It fails with ErrFrameTypeMismatch when the frame's
// cEMI class does not match the channel's role. Over a TCP fallback
// connection, mode is forced to non-blocking and the state is set to OK
// immediately; over UDP with SendBlocking, the call parks until a
// matching ack arrives or the per-role retry budget is exhausted.
func (c *Channel) Send(frame cemi.Frame, mode SendMode) error {
	class, err := cemi.ClassOf(frame.Code)
	if err != nil || class != c.expectedOutboundClass() {
		return ErrFrameTypeMismatch
	}

	c.mu.RLock()
	closed := c.state == StateClosed
	seq := c.seqSend
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	svc := knxip.SvcTunnelingReq
	if !c.role.IsTunneling() {
		svc = knxip.SvcDeviceConfigurationReq
	}
	body := knxip.Request{
		ConnectionHeader: knxip.ConnectionHeader{ChannelID: c.id, SeqNumber: seq},
		CEMI:             frame.Bytes(),
	}.Bytes()
	wire := knxip.NewHeader(svc, len(body)).Bytes(body)

	if c.hasTCPFallback() {
		if err := c.transmit(wire); err != nil {
			return err
		}
		c.mu.Lock()
		c.seqSend++
		c.state = StateOK
		c.mu.Unlock()
		return nil
	}

	profile := tunnelingRetryProfile
	if !c.role.IsTunneling() {
		profile = deviceMgmtRetryProfile
	}

	if mode == SendNonBlocking {
		go func() { _ = c.sendAndWait(wire, profile) }()
		return nil
	}
	return c.sendAndWait(wire, profile)
}

// sendAndWait drives the blocking request/ack loop: transmit, then wait
// up to profile.timeout for the matching ack, retrying the send up to
// profile.retries more times on timeout. The retry count and ceiling are
// sourced from cenkalti/backoff rather than a hand-rolled loop; the
// per-attempt pacing is the ack-wait itself, so the backoff's own
// interval is zero and only its retry bookkeeping is used.
func (c *Channel) sendAndWait(wire []byte, profile retryProfile) error {
	ackCh := make(chan ackResult, 1)
	c.mu.Lock()
	c.pendingAck = ackCh
	c.state = StateAckPending
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pendingAck == ackCh {
			c.pendingAck = nil
		}
		c.mu.Unlock()
	}()

	policy := backoff.WithMaxRetries(&backoff.ConstantBackOff{Interval: 0}, uint64(profile.retries))

	attempt := func() error {
		if err := c.transmit(wire); err != nil {
			return backoff.Permanent(err)
		}
		select {
		case res := <-ackCh:
			if res.status != knxip.ErrNoError {
				return backoff.Permanent(ErrAckError)
			}
			return nil
		case <-c.closedCh:
			return backoff.Permanent(ErrClosed)
		case <-time.After(profile.timeout):
			return ErrSendTimeout
		}
	}

	err := backoff.Retry(attempt, policy)
	switch err {
	case nil:
		c.setState(StateOK)
	case ErrSendTimeout, ErrAckError:
		c.setState(StateAckError)
	}
	return err
}
