package knxip

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidSessionBody is returned when a SESSION_REQ/RES/AUTH/STATUS
// body fails structural validation.
var ErrInvalidSessionBody = errors.New("knxip: invalid session body")

// SessionReq is a SESSION_REQ body: the client's control endpoint HPAI
// and its 32-byte X25519 public value.
type SessionReq struct {
	CtrlHPAI  HPAI
	PublicKey [32]byte
}

// ParseSessionReq decodes a SESSION_REQ body.
func ParseSessionReq(buf []byte) (SessionReq, error) {
	if len(buf) < HPAISize+32 {
		return SessionReq{}, ErrInvalidSessionBody
	}
	hpai, n, err := ParseHPAI(buf)
	if err != nil {
		return SessionReq{}, err
	}
	var req SessionReq
	req.CtrlHPAI = hpai
	copy(req.PublicKey[:], buf[n:n+32])
	return req, nil
}

// Bytes serializes a SESSION_REQ body.
func (r SessionReq) Bytes() []byte {
	out := r.CtrlHPAI.Bytes()
	return append(out, r.PublicKey[:]...)
}

// SessionRes is a SESSION_RES body: the newly allocated session id, the
// server's ephemeral X25519 public value, and the authentication MAC. A
// SessionID of 0 signals handshake failure (the response carries only the
// session id field in that case, per SessionFailureBytes).
type SessionRes struct {
	SessionID uint16
	PublicKey [32]byte
	MAC       [16]byte
}

// Bytes serializes a successful SESSION_RES body.
func (r SessionRes) Bytes() []byte {
	out := make([]byte, 2+32+16)
	binary.BigEndian.PutUint16(out[0:2], r.SessionID)
	copy(out[2:34], r.PublicKey[:])
	copy(out[34:50], r.MAC[:])
	return out
}

// SessionFailureBytes serializes the short failure form of SESSION_RES
// (session id 0, no key or MAC material).
func SessionFailureBytes() []byte {
	return []byte{0x00, 0x00}
}

// ParseSessionRes decodes a SESSION_RES body, accepting both the full and
// short (failure) forms.
func ParseSessionRes(buf []byte) (SessionRes, error) {
	if len(buf) < 2 {
		return SessionRes{}, ErrInvalidSessionBody
	}
	var r SessionRes
	r.SessionID = binary.BigEndian.Uint16(buf[0:2])
	if r.SessionID == 0 {
		return r, nil
	}
	if len(buf) < 2+32+16 {
		return SessionRes{}, ErrInvalidSessionBody
	}
	copy(r.PublicKey[:], buf[2:34])
	copy(r.MAC[:], buf[34:50])
	return r, nil
}

// SessionAuth is a SESSION_AUTH body: the user id claiming this session
// and the client's authentication MAC.
type SessionAuth struct {
	UserID uint16
	MAC    [16]byte
}

// ParseSessionAuth decodes a SESSION_AUTH body.
func ParseSessionAuth(buf []byte) (SessionAuth, error) {
	if len(buf) < 2+16 {
		return SessionAuth{}, ErrInvalidSessionBody
	}
	var a SessionAuth
	a.UserID = binary.BigEndian.Uint16(buf[0:2])
	copy(a.MAC[:], buf[2:18])
	return a, nil
}

// Bytes serializes a SESSION_AUTH body.
func (a SessionAuth) Bytes() []byte {
	out := make([]byte, 2+16)
	binary.BigEndian.PutUint16(out[0:2], a.UserID)
	copy(out[2:18], a.MAC[:])
	return out
}

// Session status codes carried by a SESSION_STATUS body.
const (
	SessionStatusAuthSuccess byte = 0x00
	SessionStatusAuthFailed  byte = 0x01
	SessionStatusUnauthorized byte = 0x02
	SessionStatusTimeout     byte = 0x03
)

// SessionStatus is a SESSION_STATUS body.
type SessionStatus struct {
	Status byte
}

// ParseSessionStatus decodes a SESSION_STATUS body.
func ParseSessionStatus(buf []byte) (SessionStatus, error) {
	if len(buf) < 1 {
		return SessionStatus{}, ErrInvalidSessionBody
	}
	return SessionStatus{Status: buf[0]}, nil
}

// Bytes serializes a SESSION_STATUS body, padded to the 2-byte structure
// the original wire format carries.
func (s SessionStatus) Bytes() []byte {
	return []byte{s.Status, 0x00}
}

// SecureWrapper is the envelope every SECURE_SVC-wrapped body travels in:
// session id, 48-bit sequence number, 48-bit serial number, a 16-bit
// message tag, the encrypted inner KNXnet/IP packet, and a trailing MAC.
type SecureWrapper struct {
	SessionID  uint16
	Seq        uint64
	Serial     [6]byte
	Tag        uint16
	Ciphertext []byte
	MAC        [16]byte
}

// secureWrapperFixedSize is the length of everything in a SecureWrapper
// except the variable-length ciphertext: session id(2) + seq(6) +
// serial(6) + tag(2) + mac(16).
const secureWrapperFixedSize = 2 + 6 + 6 + 2 + 16

// ParseSecureWrapper decodes a SECURE_SVC body.
func ParseSecureWrapper(buf []byte) (SecureWrapper, error) {
	if len(buf) < secureWrapperFixedSize {
		return SecureWrapper{}, ErrInvalidSessionBody
	}
	var w SecureWrapper
	w.SessionID = binary.BigEndian.Uint16(buf[0:2])
	w.Seq = beUint48(buf[2:8])
	copy(w.Serial[:], buf[8:14])
	w.Tag = binary.BigEndian.Uint16(buf[14:16])
	ctLen := len(buf) - secureWrapperFixedSize
	w.Ciphertext = make([]byte, ctLen)
	copy(w.Ciphertext, buf[16:16+ctLen])
	copy(w.MAC[:], buf[len(buf)-16:])
	return w, nil
}

// Bytes serializes a SECURE_SVC body.
func (w SecureWrapper) Bytes() []byte {
	out := make([]byte, secureWrapperFixedSize+len(w.Ciphertext))
	binary.BigEndian.PutUint16(out[0:2], w.SessionID)
	putUint48(out[2:8], w.Seq)
	copy(out[8:14], w.Serial[:])
	binary.BigEndian.PutUint16(out[14:16], w.Tag)
	copy(out[16:16+len(w.Ciphertext)], w.Ciphertext)
	copy(out[16+len(w.Ciphertext):], w.MAC[:])
	return out
}

// MACInput returns the bytes the SecureWrapper's MAC authenticates:
// everything in the wrapper except the MAC itself.
func (w SecureWrapper) MACInput() []byte {
	return w.Bytes()[:secureWrapperFixedSize-16+len(w.Ciphertext)]
}

func beUint48(b []byte) uint64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint48(dst []byte, v uint64) {
	for i := 5; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
