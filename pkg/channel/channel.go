// Package channel implements the data-endpoint handler: the per-channel
// request/ack state machine that enforces KNXnet/IP tunneling and
// device-management sequencing, acknowledges and retransmits over an
// unreliable UDP transport (with a TCP fallback), and applies the cEMI
// dispatch policy for each channel role.
package channel

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/knxip-gateway/pkg/cemi"
	"github.com/pion/logging"
)

// CloseInitiator identifies who triggered a channel close, for logging
// and for the close-notification callback.
type CloseInitiator int

const (
	InitiatorLocal CloseInitiator = iota
	InitiatorPeer
	InitiatorSweep
)

// CloseReason records why a channel closed.
type CloseReason int

const (
	CloseReasonExplicit CloseReason = iota
	CloseReasonVersionMismatch
	CloseReasonHeartbeatTimeout
	CloseReasonHostClose
	CloseReasonSessionRemoved
	CloseReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonExplicit:
		return "explicit"
	case CloseReasonVersionMismatch:
		return "version-mismatch"
	case CloseReasonHeartbeatTimeout:
		return "heartbeat-timeout"
	case CloseReasonHostClose:
		return "host-close"
	case CloseReasonSessionRemoved:
		return "session-removed"
	case CloseReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ackResult carries the outcome of a received ack to a parked Send call.
type ackResult struct {
	status byte
}

// retryProfile bounds the blocking Send's wait-for-ack loop: how long to
// wait for each attempt and how many retries to make beyond the first,
// per the base connection contract (§5): 1s/3 retries for tunneling,
// 10s/2 retries for device-management.
type retryProfile struct {
	timeout time.Duration
	retries int
}

var (
	tunnelingRetryProfile  = retryProfile{timeout: time.Second, retries: 3}
	deviceMgmtRetryProfile = retryProfile{timeout: 10 * time.Second, retries: 2}
)

// HeartbeatTimeout bounds how long a channel may go without observing
// inbound activity before an external sweeper should Close it with
// CloseReasonHeartbeatTimeout, matching the CONNECTIONSTATE_REQ interval a
// well-behaved client uses to keep a channel alive.
const HeartbeatTimeout = 120 * time.Second

// Config configures a new Channel.
type Config struct {
	ChannelID       uint8
	Role            Role
	AssignedAddress uint16 // tunneling only; ignored for device-management

	RemoteControl net.Addr
	RemoteData    net.Addr

	// DataSender delivers wire-ready datagrams to RemoteData. Required.
	DataSender Sender

	// Ctrl is consulted for the CONNECTIONSTATE_REQ compatibility quirk
	// and receives the close notification. Required.
	Ctrl ControlEndpoint

	// SessionID is 0 for a plaintext channel, or the secure session this
	// channel is bound to.
	SessionID uint16
	// Wrapper re-encrypts outbound packets when SessionID != 0.
	Wrapper SecureWrapper

	// Registry resolves a peer channel by id for the port-mismatch
	// recovery path (§4.1). May be nil if the surrounding server only
	// ever runs one channel.
	Registry Registry

	// Bus receives dispatched cEMI frames and reset notifications.
	// Required.
	Bus Bus

	// OnClosed notifies the owning control endpoint that this channel has
	// torn down, once, regardless of how many times Close is called.
	OnClosed func(channelID uint8, reason CloseReason)

	// UnbindSession notifies the secure session store that this channel
	// no longer holds a binding to SessionID, if SessionID != 0.
	UnbindSession func(sessionID uint16, channelID uint8)

	LoggerFactory logging.LoggerFactory
}

// Channel is the per-connection data-endpoint protocol state machine for
// one tunneling or device-management channel.
type Channel struct {
	id              uint8
	role            Role
	assignedAddress uint16

	remoteControl net.Addr
	remoteData    net.Addr
	dataSender    Sender
	ctrl          ControlEndpoint

	sessionID uint16
	wrapper   SecureWrapper

	registry Registry
	bus      Bus

	onClosed      func(channelID uint8, reason CloseReason)
	unbindSession func(sessionID uint16, channelID uint8)

	log logging.LeveledLogger

	mu                sync.RWMutex
	seqSend           uint8
	seqRecv           uint8
	lastMsgTimestamp  time.Time
	state             State
	enableFeatureInfo byte
	pendingAck        chan ackResult

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewChannel builds a Channel from cfg. now is the channel's initial
// last-activity timestamp.
func NewChannel(cfg Config, now time.Time) *Channel {
	c := &Channel{
		id:              cfg.ChannelID,
		role:            cfg.Role,
		assignedAddress: cfg.AssignedAddress,
		remoteControl:   cfg.RemoteControl,
		remoteData:      cfg.RemoteData,
		dataSender:      cfg.DataSender,
		ctrl:            cfg.Ctrl,
		sessionID:       cfg.SessionID,
		wrapper:         cfg.Wrapper,
		registry:        cfg.Registry,
		bus:             cfg.Bus,
		onClosed:        cfg.OnClosed,
		unbindSession:   cfg.UnbindSession,
		state:           StateOK,
		lastMsgTimestamp: now,
		closedCh:        make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("channel")
	}
	return c
}

// ID returns the channel's 1-byte identifier.
func (c *Channel) ID() uint8 { return c.id }

// Role returns the channel's connection role.
func (c *Channel) Role() Role { return c.role }

// AssignedAddress returns the channel's assigned KNX individual address.
func (c *Channel) AssignedAddress() uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assignedAddress
}

// SessionID returns the secure session this channel is bound to, or 0 for
// a plaintext channel.
func (c *Channel) SessionID() uint16 { return c.sessionID }

// State returns the channel's current request/ack state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SeqRecv returns the channel's next expected inbound sequence number.
func (c *Channel) SeqRecv() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seqRecv
}

// SeqSend returns the channel's next outbound sequence number.
func (c *Channel) SeqSend() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seqSend
}

// Tick reports how long it has been since the channel last observed
// activity, for an external sweeper to compare against the heartbeat
// timeout and decide whether to Close the channel.
func (c *Channel) Tick(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.lastMsgTimestamp)
}

// RebindSender replaces the transport this channel sends and receives
// through, the target-channel half of the port-mismatch recovery path
// (§4.1): once a client has been observed addressing this channel at
// another channel's socket, responses and subsequent traffic follow it
// there instead.
func (c *Channel) RebindSender(s Sender) {
	c.mu.Lock()
	c.dataSender = s
	c.mu.Unlock()
}

// Close tears the channel down exactly once regardless of how many times
// it is called: notifies the owning control endpoint, unregisters from
// the session store if sessioned, and wakes any blocked Send.
func (c *Channel) Close(initiator CloseInitiator, reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.closedCh)

		if c.sessionID != 0 && c.unbindSession != nil {
			c.unbindSession(c.sessionID, c.id)
		}
		if c.onClosed != nil {
			c.onClosed(c.id, reason)
		}
		c.logf("closed by %v: %v", initiator, reason)
	})
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) logf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Warnf("channel %d: "+format, append([]interface{}{c.id}, args...)...)
	}
}

// dispatchInbound applies the cEMI dispatch policy (§4.1) to a request
// body the state machine has already accepted and ack'd.
func (c *Channel) dispatchInbound(frame cemi.Frame) {
	switch c.role {
	case RoleTunnelingBusMonitor:
		c.logf("dropping inbound cEMI 0x%02x: busmonitor channels accept no cEMI", byte(frame.Code))

	case RoleTunnelingLinkLayer:
		if frame.Code != cemi.LDataReq {
			c.logf("dropping inbound cEMI 0x%02x: linklayer channels accept only L_Data.req", byte(frame.Code))
			return
		}
		frame = frame.ReplaceSourceAddress(c.AssignedAddress())
		c.bus.FrameReceived(c.id, frame)

	case RoleDeviceManagement:
		switch frame.Code {
		case cemi.PropReadReq, cemi.PropWriteReq, cemi.ResetReq:
			c.bus.FrameReceived(c.id, frame)
			if frame.Code == cemi.ResetReq {
				c.bus.ResetRequested(c.id)
			}
		default:
			c.logf("dropping inbound cEMI 0x%02x: not a device-management request", byte(frame.Code))
		}
	}
}

// expectedOutboundClass reports the cEMI frame class Send requires for
// this channel's role.
func (c *Channel) expectedOutboundClass() cemi.Class {
	switch c.role {
	case RoleTunnelingLinkLayer:
		return cemi.ClassLData
	case RoleTunnelingBusMonitor:
		return cemi.ClassBusMon
	default:
		return cemi.ClassDevMgmt
	}
}

// transmit re-encrypts wire under the channel's bound session (if any)
// and hands it to the data sender.
func (c *Channel) transmit(wire []byte) error {
	out := wire
	if c.sessionID != 0 {
		if c.wrapper == nil {
			return ErrNoSender
		}
		wrapped, err := c.wrapper.Wrap(c.sessionID, wire)
		if err != nil {
			return err
		}
		out = wrapped
	}
	c.mu.RLock()
	sender := c.dataSender
	c.mu.RUnlock()
	if sender == nil {
		return ErrNoSender
	}
	return sender.Send(out, c.remoteData)
}

// hasTCPFallback reports whether the configured sender has a registered
// TCP connection for this channel's remote data endpoint.
func (c *Channel) hasTCPFallback() bool {
	c.mu.RLock()
	sender := c.dataSender
	c.mu.RUnlock()
	aware, ok := sender.(TCPAware)
	if !ok {
		return false
	}
	return aware.HasPeer(c.remoteData)
}

// sequenceDecision reports whether an inbound sequence number is
// acceptable: an exact match on the next expected value, or, for
// tunneling channels only, a one-behind duplicate retransmit that must be
// ack'd again but never redispatched.
func (c *Channel) sequenceDecision(seq uint8) (accept, duplicate bool) {
	c.mu.RLock()
	expected := c.seqRecv
	c.mu.RUnlock()
	if seq == expected {
		return true, false
	}
	if c.role.IsTunneling() && seq == expected-1 {
		return true, true
	}
	return false, false
}

// advanceSeqRecv increments seqRecv and refreshes the activity timestamp,
// for a non-duplicate accepted request.
func (c *Channel) advanceSeqRecv(now time.Time) {
	c.mu.Lock()
	c.seqRecv++
	c.lastMsgTimestamp = now
	c.mu.Unlock()
}
