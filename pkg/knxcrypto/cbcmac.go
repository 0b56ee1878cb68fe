// Package knxcrypto implements the cryptographic primitives KNX IP Secure
// builds its session handshake and packet wrapping on: X25519 key
// agreement, AES-CBC-MAC authentication, an AES-ECB-style single-block
// transform for the SESSION_RES MAC encryption, AES-CTR packet wrapping,
// and SHA-256 session-key derivation.
package knxcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// KeySize is the AES key size KNX IP Secure uses throughout: 16 bytes.
const KeySize = 16

// ErrInvalidKeySize is returned when a key is not KeySize bytes.
var ErrInvalidKeySize = errors.New("knxcrypto: key must be 16 bytes")

// CBCMAC computes AES/CBC/ZeroBytePadding-MAC over data: encrypt the
// zero-padded data under AES-CBC with a zero IV and take the last block of
// ciphertext as the MAC. This is the authentication primitive KNX IP
// Secure uses to build the SESSION_RES response MAC.
func CBCMAC(key, data []byte) ([16]byte, error) {
	var mac [16]byte
	if len(key) != KeySize {
		return mac, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return mac, err
	}

	padded := zeroPad(data, aes.BlockSize)
	iv := make([]byte, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	copy(mac[:], ciphertext[len(ciphertext)-aes.BlockSize:])
	return mac, nil
}

// zeroPad pads data with zero bytes up to the next multiple of blockSize.
// Data that is already a multiple of blockSize (including the zero-length
// case) is returned as an unpadded copy; no extra padding block is added.
// KNX IP Secure's CBC-MAC inputs (32-byte XOR blocks) are always already
// block-aligned, so this only pads genuinely short inputs.
func zeroPad(data []byte, blockSize int) []byte {
	rem := len(data) % blockSize
	if rem == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, len(data)+(blockSize-rem))
	copy(out, data)
	return out
}

// XOR returns a XOR b, truncated to the shorter of the two inputs, as
// used to combine the server and client X25519 public keys before MAC'ing
// them in the session handshake.
func XOR(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
