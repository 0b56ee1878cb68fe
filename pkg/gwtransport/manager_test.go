package gwtransport

import "testing"

// TestManagerPrefersTCPWhenPeerRegistered and its siblings drive the
// manager's UDP and TCP transports over in-memory test.Bridge pipes
// instead of real loopback sockets, grounded on the teacher's
// pkg/transport/pipe.go (github.com/pion/transport/v3/test.Bridge).
func TestManagerPrefersTCPWhenPeerRegistered(t *testing.T) {
	d := newCapturingDispatcher()
	udpServer, _, closeUDP := newUDPPipe()
	defer closeUDP()
	tcpListener, tcpClient, closeTCP := newTCPPipe()
	defer closeTCP()

	m, err := NewManager(ManagerConfig{
		UDPEnabled:  true,
		TCPEnabled:  true,
		UDPConn:     udpServer,
		TCPListener: tcpListener,
		Dispatcher:  d,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if _, err := tcpClient.Write(connstateReqFrame(3)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	d.waitOne(t)

	if !m.TCP().HasPeer(tcpClient.LocalAddr()) {
		t.Fatal("expected the manager's TCP transport to have registered the peer")
	}

	// Send should route to TCP now that the peer has a registered
	// connection, even though UDP is also enabled.
	reply := connstateReqFrame(3)
	if err := m.Send(reply, tcpClient.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, len(reply))
	if _, err := tcpClient.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestManagerFallsBackToUDP(t *testing.T) {
	d := newCapturingDispatcher()
	udpServer, udpClient, closeUDP := newUDPPipe()
	defer closeUDP()
	tcpListener, _, closeTCP := newTCPPipe()
	defer closeTCP()

	m, err := NewManager(ManagerConfig{
		UDPEnabled:  true,
		TCPEnabled:  true,
		UDPConn:     udpServer,
		TCPListener: tcpListener,
		Dispatcher:  d,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Send(connstateReqFrame(5), udpClient.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestManagerStopIdempotentError(t *testing.T) {
	d := newCapturingDispatcher()
	udpServer, _, closeUDP := newUDPPipe()
	defer closeUDP()
	tcpListener, _, closeTCP := newTCPPipe()
	defer closeTCP()

	m, err := NewManager(ManagerConfig{
		UDPEnabled:  true,
		TCPEnabled:  true,
		UDPConn:     udpServer,
		TCPListener: tcpListener,
		Dispatcher:  d,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := m.Stop(); err != ErrClosed {
		t.Fatalf("second Stop: got %v, want ErrClosed", err)
	}
}
