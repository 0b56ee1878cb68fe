package knxcrypto

import "crypto/sha256"

// SessionKeySize is the length of the symmetric session key derived from
// the X25519 shared secret.
const SessionKeySize = 16

// DeriveSessionKey computes the KNX IP Secure session key from an X25519
// shared secret: the first 16 bytes of SHA-256(sharedSecret).
func DeriveSessionKey(sharedSecret []byte) [SessionKeySize]byte {
	sum := sha256.Sum256(sharedSecret)
	var key [SessionKeySize]byte
	copy(key[:], sum[:SessionKeySize])
	return key
}
