package knxcrypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// CTR wraps a single AES key for the counter-mode transforms KNX IP Secure
// needs: the full packet wrapper cipher and the single-block MAC
// encryption used in SESSION_RES.
type CTR struct {
	block cipher.Block
}

// NewCTR builds a CTR cipher from a 16-byte AES key.
func NewCTR(key []byte) (*CTR, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CTR{block: block}, nil
}

// securityInfo builds the 16-byte counter block KNX IP Secure's CTR usage
// is keyed on: session id (2), sequence number (6), serial number (6),
// message tag (2), following the SESSION_RES MAC-encryption construction
// (there: an all-zero block with the low two bytes set to 0xff00) and
// generalizing it to the packet wrapper, which key materials the counter
// block on the packet's own sequence/serial/tag fields instead.
func securityInfo(sessionID uint16, seq uint64, serial [6]byte, tag uint16) [16]byte {
	var b [16]byte
	b[0] = byte(sessionID >> 8)
	b[1] = byte(sessionID)
	// 48-bit sequence number, big-endian.
	for i := 0; i < 6; i++ {
		b[2+i] = byte(seq >> uint(8*(5-i)))
	}
	copy(b[8:14], serial[:])
	b[14] = byte(tag >> 8)
	b[15] = byte(tag)
	return b
}

// macEncryptInfo is the fixed counter block the session handshake uses to
// encrypt the SESSION_RES MAC: an all-zero block with a counter value of
// 0xff00 in the low 16 bits, matching the original securityInfo(0, 0xff00)
// call.
var macEncryptInfo = [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0x00}

// EncryptMAC returns the encryption of a 16-byte MAC for inclusion in
// SESSION_RES: a single AES block under the session key keyed on the fixed
// handshake counter block. The argument is not modified.
func (c *CTR) EncryptMAC(mac [16]byte) [16]byte {
	var out [16]byte
	stream := cipher.NewCTR(c.block, macEncryptInfo[:])
	stream.XORKeyStream(out[:], mac[:])
	return out
}

// DecryptMAC reverses EncryptMAC (CTR is its own inverse).
func (c *CTR) DecryptMAC(enc [16]byte) [16]byte {
	return c.EncryptMAC(enc)
}

// WrapPayload encrypts plaintext for a secure packet wrapper, keying the
// counter stream on the packet's session id, sequence number, serial
// number and message tag so that no two packets under the same session
// key ever reuse a counter block while seq keeps incrementing.
func (c *CTR) WrapPayload(sessionID uint16, seq uint64, serial [6]byte, tag uint16, plaintext []byte) []byte {
	info := securityInfo(sessionID, seq, serial, tag)
	out := make([]byte, len(plaintext))
	stream := cipher.NewCTR(c.block, info[:])
	stream.XORKeyStream(out, plaintext)
	return out
}

// UnwrapPayload reverses WrapPayload (CTR is its own inverse).
func (c *CTR) UnwrapPayload(sessionID uint16, seq uint64, serial [6]byte, tag uint16, ciphertext []byte) []byte {
	return c.WrapPayload(sessionID, seq, serial, tag, ciphertext)
}
