package knxcrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// PublicKeySize and PrivateKeySize are the fixed sizes of an X25519
// scalar/point, as carried in SESSION_REQ/SESSION_RES.
const (
	PublicKeySize  = 32
	PrivateKeySize = 32
)

// ErrInvalidPublicKey is returned when a peer public key is not
// PublicKeySize bytes.
var ErrInvalidPublicKey = errors.New("knxcrypto: invalid X25519 public key length")

// KeyPair is an ephemeral X25519 keypair, generated fresh for every
// session handshake.
type KeyPair struct {
	Private [PrivateKeySize]byte
	Public  [PublicKeySize]byte
}

// GenerateKeyPair creates a new ephemeral X25519 keypair using the RFC
// 7748 scalar/basepoint multiplication directly, with no reflection-based
// workarounds.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret given this keypair's
// private scalar and a peer's public key.
func (kp KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return curve25519.X25519(kp.Private[:], peerPublic)
}
