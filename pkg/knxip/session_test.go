package knxip

import (
	"bytes"
	"testing"
)

func TestSessionReqRoundTrip(t *testing.T) {
	req := SessionReq{CtrlHPAI: HPAI{Protocol: HostProtocolIPv4UDP, Addr: [4]byte{10, 0, 0, 5}, Port: 3671}}
	for i := range req.PublicKey {
		req.PublicKey[i] = byte(i)
	}
	got, err := ParseSessionReq(req.Bytes())
	if err != nil {
		t.Fatalf("ParseSessionReq: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestSessionResRoundTrip(t *testing.T) {
	res := SessionRes{SessionID: 42}
	for i := range res.PublicKey {
		res.PublicKey[i] = byte(i + 1)
	}
	for i := range res.MAC {
		res.MAC[i] = byte(i + 2)
	}
	got, err := ParseSessionRes(res.Bytes())
	if err != nil {
		t.Fatalf("ParseSessionRes: %v", err)
	}
	if got != res {
		t.Errorf("got %+v, want %+v", got, res)
	}
}

func TestSessionResFailure(t *testing.T) {
	got, err := ParseSessionRes(SessionFailureBytes())
	if err != nil {
		t.Fatalf("ParseSessionRes: %v", err)
	}
	if got.SessionID != 0 {
		t.Errorf("SessionID = %d, want 0", got.SessionID)
	}
}

func TestSecureWrapperRoundTrip(t *testing.T) {
	w := SecureWrapper{
		SessionID:  7,
		Seq:        123456,
		Serial:     [6]byte{1, 2, 3, 4, 5, 6},
		Tag:        0,
		Ciphertext: []byte("encrypted inner packet bytes"),
	}
	for i := range w.MAC {
		w.MAC[i] = byte(i)
	}
	got, err := ParseSecureWrapper(w.Bytes())
	if err != nil {
		t.Fatalf("ParseSecureWrapper: %v", err)
	}
	if got.SessionID != w.SessionID || got.Seq != w.Seq || got.Serial != w.Serial || got.Tag != w.Tag {
		t.Errorf("got %+v, want %+v", got, w)
	}
	if !bytes.Equal(got.Ciphertext, w.Ciphertext) {
		t.Errorf("Ciphertext = %q, want %q", got.Ciphertext, w.Ciphertext)
	}
	if got.MAC != w.MAC {
		t.Errorf("MAC = %x, want %x", got.MAC, w.MAC)
	}
}

func TestBeUint48RoundTrip(t *testing.T) {
	buf := make([]byte, 6)
	putUint48(buf, 0xAABBCCDDEEFF)
	if got := beUint48(buf); got != 0xAABBCCDDEEFF {
		t.Errorf("beUint48 = %x, want %x", got, 0xAABBCCDDEEFF)
	}
}
