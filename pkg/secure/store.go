// Package secure implements the KNX IP Secure session layer: the
// SESSION_REQ/RES/AUTH/STATUS handshake, the session table, SECURE_SVC
// packet wrapping/unwrapping, and the dormancy sweep that closes idle
// sessions.
package secure

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/knxip-gateway/pkg/knxcrypto"
	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/pion/logging"
)

// ConnType distinguishes the connection kind a RegisterConnection call is
// authorizing.
type ConnType int

const (
	ConnTypeTunneling ConnType = iota
	ConnTypeDeviceMgmt
)

// AcceptResult carries the outcome of Store.Accept.
type AcceptResult struct {
	// Handled reports whether the store recognized and processed the
	// frame. false means the caller should try another dispatcher.
	Handled bool

	// SessionID is non-zero when the store unwrapped a SECURE_SVC
	// envelope whose inner service it forwards (see InnerHeader). The caller
	// is responsible for recognizing a CONNECT_REQ in InnerPayload and
	// calling Bind with this SessionID when it does.
	SessionID uint16

	// InnerHeader/InnerPayload are set when Accept unwrapped a secure
	// packet whose inner service is not one the store itself consumes
	// (SESSION_AUTH and SESSION_STATUS are consumed internally). The
	// caller forwards these to the control or data endpoint layer.
	InnerHeader  knxip.Header
	InnerPayload []byte

	// Reply, if non-nil, is a wire-ready datagram the caller must send
	// back to the frame's source address.
	Reply []byte
}

// SweepEvent is one dormant session closed by Sweep.
type SweepEvent struct {
	SessionID uint16
	Client    net.Addr
	Packet    []byte
}

// Store is the secure session table and handshake engine.
type Store struct {
	cfg Config
	log logging.LeveledLogger

	allocator *idAllocator
	serial    [6]byte

	mu       sync.RWMutex
	sessions map[uint16]*Session
	pending  map[string]uint16 // ctrl endpoint address string -> session id
}

// NewStore builds a Store from cfg.
func NewStore(cfg Config) *Store {
	cfg.applyDefaults()
	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("secure")
	}
	return &Store{
		cfg:       cfg,
		log:       log,
		allocator: newIDAllocator(),
		serial:    DeriveSerialNumber(cfg.LocalAddr),
		sessions:  make(map[uint16]*Session),
		pending:   make(map[string]uint16),
	}
}

// SessionCount returns the number of sessions currently tracked.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Session returns the session with the given id, if present.
func (s *Store) Session(id uint16) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Store) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Store) removeSession(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.allocator.Release(id)
}

// Accept dispatches SESSION_REQ and SECURE_SVC frames; SESSION_AUTH and
// SESSION_STATUS are recognized only inside a SECURE_SVC envelope. It
// returns Handled=false for any other outer service type.
func (s *Store) Accept(h knxip.Header, payload []byte, src net.Addr) (AcceptResult, error) {
	switch h.ServiceType {
	case knxip.SvcSessionReq:
		reply, err := s.establishSession(payload, src)
		if err != nil {
			return AcceptResult{}, err
		}
		return AcceptResult{Handled: true, Reply: reply}, nil

	case knxip.SvcSecureWrapper:
		return s.acceptSecureWrapper(payload)

	default:
		return AcceptResult{Handled: false}, nil
	}
}

func (s *Store) acceptSecureWrapper(payload []byte) (AcceptResult, error) {
	w, err := knxip.ParseSecureWrapper(payload)
	if err != nil {
		return AcceptResult{}, err
	}

	sess, ok := s.Session(w.SessionID)
	if !ok {
		if s.log != nil {
			s.log.Warnf("secure: unknown session id %d in SECURE_SVC", w.SessionID)
		}
		return AcceptResult{Handled: false}, nil
	}

	key := sess.Key()
	mac, err := knxcrypto.CBCMAC(key[:], w.MACInput())
	if err != nil {
		return AcceptResult{}, err
	}
	if mac != w.MAC {
		if s.log != nil {
			s.log.Warnf("secure: MAC mismatch on session %d", w.SessionID)
		}
		reply := s.statusWire(sess, knxip.SessionStatusUnauthorized)
		return AcceptResult{Handled: true, Reply: reply}, nil
	}

	ctr, err := knxcrypto.NewCTR(key[:])
	if err != nil {
		return AcceptResult{}, err
	}
	inner := ctr.UnwrapPayload(w.SessionID, w.Seq, w.Serial, w.Tag, w.Ciphertext)
	sess.MarkActivity(time.Now())

	innerHeader, err := knxip.ParseHeader(inner)
	if err != nil {
		return AcceptResult{}, err
	}
	innerBody := innerHeader.Body(inner)

	switch innerHeader.ServiceType {
	case knxip.SvcSessionAuth:
		return s.acceptSessionAuth(sess, innerBody)
	case knxip.SvcSessionStatus:
		if s.log != nil {
			s.log.Infof("secure: client reported session %d status", w.SessionID)
		}
		return AcceptResult{Handled: true}, nil
	default:
		return AcceptResult{
			Handled:      true,
			SessionID:    w.SessionID,
			InnerHeader:  innerHeader,
			InnerPayload: innerBody,
		}, nil
	}
}

func (s *Store) acceptSessionAuth(sess *Session, body []byte) (AcceptResult, error) {
	auth, err := knxip.ParseSessionAuth(body)
	if err != nil {
		return AcceptResult{}, err
	}

	if auth.UserID == 0 || auth.UserID > 0x7F {
		reply := s.statusWire(sess, knxip.SessionStatusAuthFailed)
		sess.clearHandshakeKeys()
		s.removeSession(sess.id)
		return AcceptResult{Handled: true, Reply: reply}, nil
	}

	if hash, ok := s.cfg.Security.UserPasswordHashes[auth.UserID]; ok {
		sess.mu.RLock()
		expected, err := knxcrypto.CBCMAC(hash, knxcrypto.XOR(sess.serverPublic[:], sess.clientPublic[:]))
		sess.mu.RUnlock()
		if err != nil {
			return AcceptResult{}, err
		}
		if expected != auth.MAC {
			reply := s.statusWire(sess, knxip.SessionStatusAuthFailed)
			sess.clearHandshakeKeys()
			s.removeSession(sess.id)
			return AcceptResult{Handled: true, Reply: reply}, nil
		}
	} else if s.log != nil {
		s.log.Warnf("secure: no password hash registered for user id %d, skipping SESSION_AUTH verification", auth.UserID)
	}

	sess.setUserID(auth.UserID)
	sess.setState(StateAuthenticated)
	sess.clearHandshakeKeys()
	reply := s.statusWire(sess, knxip.SessionStatusAuthSuccess)
	return AcceptResult{Handled: true, Reply: reply}, nil
}

// statusWire builds a SECURE_SVC-wrapped SESSION_STATUS reply, best-effort:
// a Wrap failure (session removed concurrently) yields a nil reply.
func (s *Store) statusWire(sess *Session, status byte) []byte {
	body := knxip.SessionStatus{Status: status}.Bytes()
	header := knxip.NewHeader(knxip.SvcSessionStatus, len(body))
	inner := header.Bytes(body)
	wrapped, err := s.Wrap(sess.id, inner)
	if err != nil {
		return nil
	}
	return wrapped
}

// establishSession implements handshake steps 1-4: derive the shared
// secret, allocate a session id, and build the SESSION_RES reply.
func (s *Store) establishSession(payload []byte, src net.Addr) ([]byte, error) {
	req, err := knxip.ParseSessionReq(payload)
	if err != nil {
		return nil, err
	}

	kp, err := knxcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := kp.SharedSecret(req.PublicKey[:])
	if err != nil {
		return s.sessionResFailureWire(), nil
	}
	key := knxcrypto.DeriveSessionKey(shared)

	id, err := s.allocator.Allocate()
	if err != nil {
		if s.log != nil {
			s.log.Error("secure: session id space exhausted")
		}
		return s.sessionResFailureWire(), nil
	}

	sess := &Session{
		id:           id,
		client:       src,
		key:          key,
		serial:       s.serial,
		serverPublic: kp.Public,
		clientPublic: req.PublicKey,
		lastUpdate:   time.Now(),
		state:        StatePending,
	}
	s.addSession(sess)

	mac, err := knxcrypto.CBCMAC(s.cfg.deviceAuthKey(), knxcrypto.XOR(kp.Public[:], req.PublicKey[:]))
	if err != nil {
		return nil, err
	}
	ctr, err := knxcrypto.NewCTR(key[:])
	if err != nil {
		return nil, err
	}
	encMAC := ctr.EncryptMAC(mac)

	res := knxip.SessionRes{SessionID: id, PublicKey: kp.Public, MAC: encMAC}
	body := res.Bytes()
	header := knxip.NewHeader(knxip.SvcSessionRes, len(body))
	if s.log != nil {
		s.log.Infof("secure: opened session %d for %v", id, src)
	}
	return header.Bytes(body), nil
}

func (s *Store) sessionResFailureWire() []byte {
	body := knxip.SessionFailureBytes()
	header := knxip.NewHeader(knxip.SvcSessionRes, len(body))
	return header.Bytes(body)
}

// Wrap encrypts innerPacket under session's key, stamping the session's
// next send sequence, its serial number, and a zero message tag.
func (s *Store) Wrap(sessionID uint16, innerPacket []byte) ([]byte, error) {
	sess, ok := s.Session(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	key := sess.Key()
	ctr, err := knxcrypto.NewCTR(key[:])
	if err != nil {
		return nil, err
	}
	serial := sess.Serial()
	seq := sess.NextSendSeq()

	w := knxip.SecureWrapper{
		SessionID: sessionID,
		Seq:       seq,
		Serial:    serial,
		Tag:       0,
	}
	w.Ciphertext = ctr.WrapPayload(sessionID, seq, serial, w.Tag, innerPacket)
	mac, err := knxcrypto.CBCMAC(key[:], w.MACInput())
	if err != nil {
		return nil, err
	}
	w.MAC = mac

	body := w.Bytes()
	header := knxip.NewHeader(knxip.SvcSecureWrapper, len(body))
	return header.Bytes(body), nil
}

// Bind records that src is now associated with sessionID, for
// RegisterConnection to consult when a CONNECT_REQ arriving inside that
// session instantiates a channel.
func (s *Store) Bind(src net.Addr, sessionID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[src.String()] = sessionID
}

// RegisterConnection resolves the session id bound to ctrlEndpoint, if
// any, refusing device-management registration when the session's user id
// exceeds 1 (invariant 5).
func (s *Store) RegisterConnection(connType ConnType, ctrlEndpoint net.Addr) (uint16, error) {
	s.mu.Lock()
	id, ok := s.pending[ctrlEndpoint.String()]
	if ok {
		delete(s.pending, ctrlEndpoint.String())
	}
	s.mu.Unlock()

	if !ok || id == 0 {
		return 0, nil
	}

	sess, ok := s.Session(id)
	if !ok {
		return 0, nil
	}

	if connType == ConnTypeDeviceMgmt && sess.UserID() > 1 {
		return 0, nil
	}
	return id, nil
}

// Sweep closes every session whose dormancy exceeds the configured
// timeout, returning a SESSION_STATUS(Timeout) packet for each that the
// caller is responsible for sending to the recorded client address.
func (s *Store) Sweep(now time.Time) []SweepEvent {
	s.mu.RLock()
	ids := make([]uint16, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	timeout := time.Duration(s.cfg.SessionTimeout) * time.Second
	var events []SweepEvent
	for _, id := range ids {
		sess, ok := s.Session(id)
		if !ok {
			continue
		}
		if now.Sub(sess.LastUpdate()) <= timeout {
			continue
		}
		packet := s.statusWire(sess, knxip.SessionStatusTimeout)
		client := sess.Client()
		sess.setState(StateClosed)
		s.removeSession(id)
		events = append(events, SweepEvent{SessionID: id, Client: client, Packet: packet})
		if s.log != nil {
			s.log.Infof("secure: session %d timed out", id)
		}
	}
	return events
}
