package gwtransport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeAddr implements net.Addr for an in-memory pipe endpoint.
type PipeAddr struct {
	ID int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// pipePacketConn wraps one endpoint of a pion test.Bridge to satisfy
// net.PacketConn: a fixed-peer, in-memory packet connection with a
// background goroutine auto-delivering queued packets, so gwtransport's
// own tests don't depend on the host's real loopback network stack for
// deterministic send/receive — the "virtual network" pattern the
// teacher's pkg/transport/pipe.go follows for the same reason.
type pipePacketConn struct {
	conn     net.Conn
	localID  int
	peerAddr net.Addr
}

func (c *pipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peerAddr, err
}

func (c *pipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	return c.conn.Write(b)
}

func (c *pipePacketConn) Close() error                       { return c.conn.Close() }
func (c *pipePacketConn) LocalAddr() net.Addr                { return PipeAddr{ID: c.localID} }
func (c *pipePacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *pipePacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *pipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*pipePacketConn)(nil)

// newUDPPipe returns two connected, in-memory net.PacketConns standing in
// for a server and client UDP socket, backed by test.Bridge, plus a
// cleanup function that stops the auto-delivery goroutine and closes both
// ends.
func newUDPPipe() (server, client net.PacketConn, closeFn func()) {
	bridge := test.NewBridge()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bridge.Tick()
			}
		}
	}()

	server = &pipePacketConn{conn: bridge.GetConn0(), localID: 0, peerAddr: PipeAddr{ID: 1}}
	client = &pipePacketConn{conn: bridge.GetConn1(), localID: 1, peerAddr: PipeAddr{ID: 0}}
	closeFn = func() {
		close(stop)
		wg.Wait()
		bridge.GetConn0().Close()
		bridge.GetConn1().Close()
	}
	return server, client, closeFn
}

// pipeListener implements net.Listener over a single test.Bridge
// connection, accepting exactly the one client side a point-to-point
// in-memory test needs.
type pipeListener struct {
	conn     net.Conn
	addr     net.Addr
	acceptCh chan struct{}
	closeCh  chan struct{}

	mu       sync.Mutex
	accepted bool
	closed   bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, &net.OpError{Op: "accept", Net: "pipe", Addr: l.addr, Err: net.ErrClosed}
	}
	if l.accepted {
		l.mu.Unlock()
		<-l.closeCh
		return nil, &net.OpError{Op: "accept", Net: "pipe", Addr: l.addr, Err: net.ErrClosed}
	}
	l.accepted = true
	l.mu.Unlock()
	return l.conn, nil
}

func (l *pipeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.closeCh)
	return nil
}

func (l *pipeListener) Addr() net.Addr { return l.addr }

var _ net.Listener = (*pipeListener)(nil)

// pipeTCPConn wraps one end of a test.Bridge connection with stable,
// distinguishable addresses, since test.Bridge's own synthetic addresses
// aren't guaranteed to make good map keys for a peer registry — the same
// reason the teacher's PipeTCPConn overrides LocalAddr/RemoteAddr instead
// of trusting the bridge's own.
type pipeTCPConn struct {
	net.Conn
	localAddr, remoteAddr net.Addr
}

func (c *pipeTCPConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *pipeTCPConn) RemoteAddr() net.Addr { return c.remoteAddr }

// newTCPPipe returns an in-memory net.Listener (the server side) and the
// net.Conn a test should use as the client, backed by test.Bridge with the
// same background auto-delivery goroutine newUDPPipe runs, plus a cleanup
// function that closes both ends and stops that goroutine.
func newTCPPipe() (listener net.Listener, client net.Conn, closeFn func()) {
	bridge := test.NewBridge()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bridge.Tick()
			}
		}
	}()
	serverConn := &pipeTCPConn{Conn: bridge.GetConn0(), localAddr: PipeAddr{ID: 0}, remoteAddr: PipeAddr{ID: 1}}
	clientConn := &pipeTCPConn{Conn: bridge.GetConn1(), localAddr: PipeAddr{ID: 1}, remoteAddr: PipeAddr{ID: 0}}
	l := &pipeListener{
		conn:    serverConn,
		addr:    PipeAddr{ID: 0},
		closeCh: make(chan struct{}),
	}
	closeFn = func() {
		l.Close()
		serverConn.Close()
		clientConn.Close()
		close(stop)
		wg.Wait()
	}
	return l, clientConn, closeFn
}
