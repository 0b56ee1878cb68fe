package secure

import (
	"net"
	"testing"

	"github.com/backkem/knxip-gateway/pkg/knxcrypto"
	"github.com/backkem/knxip-gateway/pkg/knxip"
)

func establishedSession(t *testing.T, store *Store) (*Session, knxcrypto.KeyPair) {
	t.Helper()
	client, err := knxcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	req := knxip.SessionReq{PublicKey: client.Public}
	src := mustUDPAddr(t, "192.0.2.60:3671")
	reply, err := store.establishSession(req.Bytes(), src)
	if err != nil {
		t.Fatalf("establishSession: %v", err)
	}
	h, _ := knxip.ParseHeader(reply)
	res, _ := knxip.ParseSessionRes(h.Body(reply))
	sess, ok := store.Session(res.SessionID)
	if !ok {
		t.Fatal("session not found after handshake")
	}
	return sess, client
}

func wrapForTest(t *testing.T, store *Store, sess *Session, innerHeader knxip.Header, innerBody []byte) []byte {
	t.Helper()
	inner := innerHeader.Bytes(innerBody)
	wrapped, err := store.Wrap(sess.id, inner)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return wrapped
}

func TestSessionAuthSkippedWhenNoHashRegistered(t *testing.T) {
	store := NewStore(Config{})
	sess, _ := establishedSession(t, store)

	auth := knxip.SessionAuth{UserID: 2}
	authHeader := knxip.NewHeader(knxip.SvcSessionAuth, len(auth.Bytes()))
	wrapped := wrapForTest(t, store, sess, authHeader, auth.Bytes())

	h, _ := knxip.ParseHeader(wrapped)
	res, err := store.Accept(h, h.Body(wrapped), sess.Client())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected Accept to handle SESSION_AUTH")
	}

	statusHeader, _ := knxip.ParseHeader(res.Reply)
	statusBody, err := knxip.ParseSecureWrapper(statusHeader.Body(res.Reply))
	if err != nil {
		t.Fatalf("ParseSecureWrapper: %v", err)
	}
	key := sess.Key()
	ctr, _ := knxcrypto.NewCTR(key[:])
	plain := ctr.UnwrapPayload(statusBody.SessionID, statusBody.Seq, statusBody.Serial, statusBody.Tag, statusBody.Ciphertext)
	innerHeader, _ := knxip.ParseHeader(plain)
	status, err := knxip.ParseSessionStatus(innerHeader.Body(plain))
	if err != nil {
		t.Fatalf("ParseSessionStatus: %v", err)
	}
	if status.Status != knxip.SessionStatusAuthSuccess {
		t.Errorf("status = %d, want AuthSuccess", status.Status)
	}
	if sess.UserID() != 2 {
		t.Errorf("UserID = %d, want 2", sess.UserID())
	}
	if sess.State() != StateAuthenticated {
		t.Errorf("State = %v, want Authenticated", sess.State())
	}
}

func TestSessionAuthEnforcedWithRegisteredHash(t *testing.T) {
	hash := make([]byte, 16)
	for i := range hash {
		hash[i] = byte(i + 10)
	}
	store := NewStore(Config{Security: SecurityConfig{UserPasswordHashes: map[uint16][]byte{3: hash}}})
	sess, _ := establishedSession(t, store)

	// Wrong MAC: zero bytes instead of the correct CBC-MAC.
	auth := knxip.SessionAuth{UserID: 3}
	authHeader := knxip.NewHeader(knxip.SvcSessionAuth, len(auth.Bytes()))
	wrapped := wrapForTest(t, store, sess, authHeader, auth.Bytes())

	h, _ := knxip.ParseHeader(wrapped)
	res, err := store.Accept(h, h.Body(wrapped), sess.Client())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected Accept to handle SESSION_AUTH")
	}
	if _, ok := store.Session(sess.id); ok {
		t.Error("session should be removed after auth failure")
	}
}

func TestSessionAuthInvalidUserID(t *testing.T) {
	store := NewStore(Config{})
	sess, _ := establishedSession(t, store)

	auth := knxip.SessionAuth{UserID: 0x80} // out of [1, 0x7F]
	authHeader := knxip.NewHeader(knxip.SvcSessionAuth, len(auth.Bytes()))
	wrapped := wrapForTest(t, store, sess, authHeader, auth.Bytes())

	h, _ := knxip.ParseHeader(wrapped)
	res, err := store.Accept(h, h.Body(wrapped), sess.Client())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Handled {
		t.Fatal("expected Accept to handle SESSION_AUTH")
	}
	if _, ok := store.Session(sess.id); ok {
		t.Error("session should be removed after invalid user id")
	}
}

func TestAcceptForwardsUnrelatedInnerService(t *testing.T) {
	store := NewStore(Config{})
	sess, _ := establishedSession(t, store)
	store.Bind(sess.Client().(*net.UDPAddr), sess.id)

	innerBody := []byte{0xAA, 0xBB}
	innerHeader := knxip.NewHeader(knxip.ServiceType(0x0205), len(innerBody)) // CONNECT_REQ-shaped, opaque to this package
	wrapped := wrapForTest(t, store, sess, innerHeader, innerBody)

	h, _ := knxip.ParseHeader(wrapped)
	res, err := store.Accept(h, h.Body(wrapped), sess.Client())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Handled || res.SessionID != sess.id {
		t.Fatalf("res = %+v", res)
	}
	if string(res.InnerPayload) != string(innerBody) {
		t.Errorf("InnerPayload = %x, want %x", res.InnerPayload, innerBody)
	}
}

func TestAcceptUnknownSessionID(t *testing.T) {
	store := NewStore(Config{})
	w := knxip.SecureWrapper{SessionID: 12345, Seq: 0}
	body := w.Bytes()
	header := knxip.NewHeader(knxip.SvcSecureWrapper, len(body))
	wire := header.Bytes(body)

	h, _ := knxip.ParseHeader(wire)
	res, err := store.Accept(h, h.Body(wire), mustUDPAddr(t, "192.0.2.70:3671"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Handled {
		t.Error("expected Handled=false for unknown session id")
	}
}

func TestAcceptUnrecognizedServiceType(t *testing.T) {
	store := NewStore(Config{})
	h := knxip.Header{Version: knxip.ProtocolVersion10, ServiceType: knxip.SvcTunnelingReq, TotalLength: knxip.HeaderSize}
	res, err := store.Accept(h, nil, mustUDPAddr(t, "192.0.2.80:3671"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Handled {
		t.Error("expected Handled=false for a service the store does not own")
	}
}

func TestDeriveSerialNumberNilAddr(t *testing.T) {
	sno := DeriveSerialNumber(nil)
	if sno != ([6]byte{}) {
		t.Errorf("sno = %x, want zero", sno)
	}
}
