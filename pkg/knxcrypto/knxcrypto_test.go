package knxcrypto

import (
	"bytes"
	"testing"
)

func TestCBCMACDeterministic(t *testing.T) {
	key := make([]byte, KeySize)
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	mac1, err := CBCMAC(key, data)
	if err != nil {
		t.Fatalf("CBCMAC: %v", err)
	}
	mac2, err := CBCMAC(key, data)
	if err != nil {
		t.Fatalf("CBCMAC: %v", err)
	}
	if mac1 != mac2 {
		t.Error("CBCMAC not deterministic")
	}
}

func TestCBCMACInvalidKeySize(t *testing.T) {
	_, err := CBCMAC(make([]byte, 10), make([]byte, 32))
	if err != ErrInvalidKeySize {
		t.Errorf("err = %v, want ErrInvalidKeySize", err)
	}
}

func TestXOR(t *testing.T) {
	a := bytes.Repeat([]byte{0xFF}, 32)
	b := bytes.Repeat([]byte{0x0F}, 32)
	got := XOR(a, b)
	if len(got) != 32 {
		t.Fatalf("len(XOR) = %d, want 32", len(got))
	}
	for _, v := range got {
		if v != 0xF0 {
			t.Fatalf("XOR = %x, want all 0xF0", got)
		}
	}
}

func TestEncryptDecryptMACRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	c, err := NewCTR(key)
	if err != nil {
		t.Fatalf("NewCTR: %v", err)
	}
	var mac [16]byte
	copy(mac[:], []byte("0123456789abcdef"))

	enc := c.EncryptMAC(mac)
	if enc == mac {
		t.Error("encrypted MAC equals plaintext, cipher not applied")
	}
	dec := c.DecryptMAC(enc)
	if dec != mac {
		t.Errorf("DecryptMAC(EncryptMAC(x)) = %x, want %x", dec, mac)
	}
}

func TestWrapUnwrapPayloadRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i + 2)
	}
	c, err := NewCTR(key)
	if err != nil {
		t.Fatalf("NewCTR: %v", err)
	}
	plaintext := []byte("a KNXnet/IP packet goes here, of arbitrary length")
	serial := [6]byte{1, 2, 3, 4, 5, 6}

	ct := c.WrapPayload(42, 7, serial, 0, plaintext)
	if bytes.Equal(ct, plaintext) {
		t.Error("ciphertext equals plaintext")
	}
	pt := c.UnwrapPayload(42, 7, serial, 0, ct)
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("UnwrapPayload = %q, want %q", pt, plaintext)
	}
}

func TestWrapPayloadSeqChangesStream(t *testing.T) {
	key := make([]byte, KeySize)
	c, _ := NewCTR(key)
	plaintext := make([]byte, 16)
	serial := [6]byte{}

	ct1 := c.WrapPayload(1, 0, serial, 0, plaintext)
	ct2 := c.WrapPayload(1, 1, serial, 0, plaintext)
	if bytes.Equal(ct1, ct2) {
		t.Error("different sequence numbers produced identical ciphertext")
	}
}

func TestDeriveSessionKeyLength(t *testing.T) {
	key := DeriveSessionKey([]byte("shared secret material"))
	if len(key) != SessionKeySize {
		t.Errorf("len(key) = %d, want %d", len(key), SessionKeySize)
	}
}

func TestX25519KeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sharedA, err := a.SharedSecret(b.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	sharedB, err := b.SharedSecret(a.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	if !bytes.Equal(sharedA, sharedB) {
		t.Error("X25519 shared secrets do not match")
	}
}

func TestSharedSecretInvalidPublicKey(t *testing.T) {
	a, _ := GenerateKeyPair()
	_, err := a.SharedSecret(make([]byte, 10))
	if err != ErrInvalidPublicKey {
		t.Errorf("err = %v, want ErrInvalidPublicKey", err)
	}
}
