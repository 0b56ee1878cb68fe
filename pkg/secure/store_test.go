package secure

import (
	"net"
	"testing"
	"time"

	"github.com/backkem/knxip-gateway/pkg/knxcrypto"
	"github.com/backkem/knxip-gateway/pkg/knxip"
)

func mustUDPAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	return addr
}

// TestSessionHandshake covers scenario S5: a SESSION_REQ from a known
// client public key yields a SESSION_RES whose MAC, reconstructed from the
// derived session key and the device auth key, matches
// CBC-MAC(server_pub XOR client_pub).
func TestSessionHandshake(t *testing.T) {
	store := NewStore(Config{})
	client, err := knxcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	req := knxip.SessionReq{PublicKey: client.Public}
	src := mustUDPAddr(t, "192.0.2.10:3671")

	reply, err := store.establishSession(req.Bytes(), src)
	if err != nil {
		t.Fatalf("establishSession: %v", err)
	}

	h, err := knxip.ParseHeader(reply)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.ServiceType != knxip.SvcSessionRes {
		t.Fatalf("ServiceType = %v, want SESSION_RES", h.ServiceType)
	}
	res, err := knxip.ParseSessionRes(h.Body(reply))
	if err != nil {
		t.Fatalf("ParseSessionRes: %v", err)
	}
	if res.SessionID == 0 {
		t.Fatal("expected a non-zero session id")
	}

	sess, ok := store.Session(res.SessionID)
	if !ok {
		t.Fatal("session not stored")
	}
	key := sess.Key()
	ctr, err := knxcrypto.NewCTR(key[:])
	if err != nil {
		t.Fatalf("NewCTR: %v", err)
	}
	decMAC := ctr.DecryptMAC(res.MAC)

	want, err := knxcrypto.CBCMAC(store.cfg.deviceAuthKey(), knxcrypto.XOR(res.PublicKey[:], client.Public[:]))
	if err != nil {
		t.Fatalf("CBCMAC: %v", err)
	}
	if decMAC != want {
		t.Errorf("decrypted MAC = %x, want %x", decMAC, want)
	}
}

// TestSweepTimeout covers scenario S6: a session dormant for over 2
// minutes is closed by Sweep, which emits a SESSION_STATUS(Timeout)
// packet addressed to the session's recorded client.
func TestSweepTimeout(t *testing.T) {
	store := NewStore(Config{})
	src := mustUDPAddr(t, "192.0.2.20:3671")
	sess := &Session{id: 5, client: src, lastUpdate: time.Now().Add(-121 * time.Second), state: StateAuthenticated}
	store.addSession(sess)

	events := store.Sweep(time.Now())
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.SessionID != 5 {
		t.Errorf("SessionID = %d, want 5", ev.SessionID)
	}
	if ev.Client != src {
		t.Errorf("Client = %v, want %v", ev.Client, src)
	}
	if _, ok := store.Session(5); ok {
		t.Error("session should have been removed")
	}

	h, err := knxip.ParseHeader(ev.Packet)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.ServiceType != knxip.SvcSecureWrapper {
		t.Errorf("ServiceType = %v, want SECURE_SVC", h.ServiceType)
	}
}

func TestSweepSkipsFreshSessions(t *testing.T) {
	store := NewStore(Config{})
	sess := &Session{id: 9, client: mustUDPAddr(t, "192.0.2.30:3671"), lastUpdate: time.Now(), state: StateAuthenticated}
	store.addSession(sess)

	events := store.Sweep(time.Now())
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

// TestRegisterConnectionRefusesPrivilegedDeviceMgmt covers invariant 5: a
// device-management connection attempt bound to a session with
// user_id > 1 is refused (RegisterConnection returns 0).
func TestRegisterConnectionRefusesPrivilegedDeviceMgmt(t *testing.T) {
	store := NewStore(Config{})
	src := mustUDPAddr(t, "192.0.2.40:3671")
	sess := &Session{id: 3, client: src, userID: 5, state: StateAuthenticated}
	store.addSession(sess)
	store.Bind(src, 3)

	id, err := store.RegisterConnection(ConnTypeDeviceMgmt, src)
	if err != nil {
		t.Fatalf("RegisterConnection: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0 (refused)", id)
	}
}

func TestRegisterConnectionAllowsTunneling(t *testing.T) {
	store := NewStore(Config{})
	src := mustUDPAddr(t, "192.0.2.41:3671")
	sess := &Session{id: 4, client: src, userID: 5, state: StateAuthenticated}
	store.addSession(sess)
	store.Bind(src, 4)

	id, err := store.RegisterConnection(ConnTypeTunneling, src)
	if err != nil {
		t.Fatalf("RegisterConnection: %v", err)
	}
	if id != 4 {
		t.Errorf("id = %d, want 4", id)
	}
}

func TestRegisterConnectionAllowsDeviceMgmtForManagementUser(t *testing.T) {
	store := NewStore(Config{})
	src := mustUDPAddr(t, "192.0.2.42:3671")
	sess := &Session{id: 6, client: src, userID: 1, state: StateAuthenticated}
	store.addSession(sess)
	store.Bind(src, 6)

	id, err := store.RegisterConnection(ConnTypeDeviceMgmt, src)
	if err != nil {
		t.Fatalf("RegisterConnection: %v", err)
	}
	if id != 6 {
		t.Errorf("id = %d, want 6", id)
	}
}

// TestWrapUnwrapRoundTrip covers invariant 7: wrap followed by unwrap
// recovers the original inner packet byte-for-byte, and the wrapped
// packet's seq equals the pre-call value of send_seq.
func TestWrapUnwrapRoundTrip(t *testing.T) {
	store := NewStore(Config{})
	src := mustUDPAddr(t, "192.0.2.50:3671")
	sess := &Session{id: 8, client: src, lastUpdate: time.Now(), state: StateAuthenticated}
	copy(sess.key[:], []byte("0123456789abcdef"))
	store.addSession(sess)

	before := sess.sendSeq
	inner := []byte{0x06, 0x10, 0x04, 0x20, 0x00, 0x0A, 0x04, 0x07, 0x00, 0x00}
	wrapped, err := store.Wrap(8, inner)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	h, err := knxip.ParseHeader(wrapped)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	w, err := knxip.ParseSecureWrapper(h.Body(wrapped))
	if err != nil {
		t.Fatalf("ParseSecureWrapper: %v", err)
	}
	if w.Seq != before {
		t.Errorf("wrapped seq = %d, want pre-call send_seq %d", w.Seq, before)
	}

	key := sess.Key()
	ctr, _ := knxcrypto.NewCTR(key[:])
	got := ctr.UnwrapPayload(w.SessionID, w.Seq, w.Serial, w.Tag, w.Ciphertext)
	if string(got) != string(inner) {
		t.Errorf("unwrapped = %x, want %x", got, inner)
	}
}

func TestWrapUnknownSession(t *testing.T) {
	store := NewStore(Config{})
	if _, err := store.Wrap(999, []byte("x")); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
