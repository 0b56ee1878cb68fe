package secure

import (
	"net"
	"sync"
	"time"
)

// State is a session's position in its lifecycle.
type State int

const (
	StatePending State = iota
	StateAuthenticated
	StateClosed
)

// StateFailed is a terminal alias of StateClosed: the original spec
// distinguishes an auth-failure/timeout closure from an explicit close by
// name only, not by behavior, so both map to the same terminal state.
const StateFailed = StateClosed

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one KNX IP Secure session: a symmetric key derived from an
// X25519 handshake, a monotonic send sequence, and the authorization level
// the client authenticated at.
type Session struct {
	mu sync.RWMutex

	id     uint16
	client net.Addr
	key    [16]byte
	serial [6]byte

	// serverPublic/clientPublic are retained only through the Pending
	// phase to let acceptSessionAuth recompute the handshake MAC against a
	// registered password hash; they are zeroed once authentication
	// completes or fails.
	serverPublic [32]byte
	clientPublic [32]byte

	sendSeq    uint64
	lastUpdate time.Time
	userID     uint16
	state      State
}

// ID returns the session's 16-bit identifier.
func (s *Session) ID() uint16 { return s.id }

// Client returns the client's control endpoint address recorded at
// handshake time.
func (s *Session) Client() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Key returns the derived 16-byte session key.
func (s *Session) Key() [16]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Serial returns the session's 6-byte serial number.
func (s *Session) Serial() [6]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UserID returns the authorization level the client authenticated at. 0
// means not yet authenticated.
func (s *Session) UserID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// LastUpdate returns the timestamp of the session's last observed
// activity.
func (s *Session) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// MarkActivity records now as the session's last-activity timestamp.
func (s *Session) MarkActivity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = now
}

// NextSendSeq returns the current send sequence number and increments it.
// sendSeq never decreases, satisfying the monotonicity invariant the
// packet wrapper depends on.
func (s *Session) NextSendSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sendSeq
	s.sendSeq++
	return seq
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setUserID(userID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Session) clearHandshakeKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverPublic = [32]byte{}
	s.clientPublic = [32]byte{}
}
