package gwtransport

import (
	"io"
	"net"
	"sync"

	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/pion/logging"
)

// TCP accepts the per-peer fallback connections §4.1/§9 calls out as a
// strategy object owning the transport, rather than a global lookup
// inside Send: each accepted connection gets its own read loop and a
// registered tcpConn that Manager.Send consults before falling back to
// UDP.
type TCP struct {
	listener   net.Listener
	dispatcher Dispatcher
	closeCh    chan struct{}
	wg         sync.WaitGroup
	log        logging.LeveledLogger

	connsMu sync.RWMutex
	conns   map[string]*tcpConn

	mu      sync.RWMutex
	started bool
	closed  bool
}

type tcpConn struct {
	conn   net.Conn
	writer *StreamWriter
	mu     sync.Mutex
}

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	Listener      net.Listener
	ListenAddr    string
	Dispatcher    Dispatcher
	LoggerFactory logging.LoggerFactory
}

// NewTCP creates a TCP transport from cfg.
func NewTCP(cfg TCPConfig) (*TCP, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	t := &TCP{
		listener:   cfg.Listener,
		dispatcher: cfg.Dispatcher,
		closeCh:    make(chan struct{}),
		conns:      make(map[string]*tcpConn),
	}
	if cfg.LoggerFactory != nil {
		t.log = cfg.LoggerFactory.NewLogger("gwtransport-tcp")
	}
	if t.listener == nil {
		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		t.listener = l
	}
	return t, nil
}

// Start begins accepting connections.
func (t *TCP) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infof("gwtransport: TCP listening on %s", t.listener.Addr())
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Stop closes the listener and every tracked connection.
func (t *TCP) Stop() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closeCh)
	t.listener.Close()

	t.connsMu.Lock()
	for _, tc := range t.conns {
		tc.conn.Close()
	}
	t.conns = make(map[string]*tcpConn)
	t.connsMu.Unlock()

	t.wg.Wait()
	return nil
}

// HasPeer reports whether addr has a live TCP fallback connection
// registered, the condition Manager.Send checks before preferring TCP
// over UDP for that peer.
func (t *TCP) HasPeer(addr net.Addr) bool {
	t.connsMu.RLock()
	defer t.connsMu.RUnlock()
	_, ok := t.conns[addr.String()]
	return ok
}

// Send writes a wire-ready frame to addr over its registered connection.
func (t *TCP) Send(data []byte, addr net.Addr) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	t.mu.RUnlock()

	t.connsMu.RLock()
	tc, ok := t.conns[addr.String()]
	t.connsMu.RUnlock()
	if !ok {
		return net.ErrClosed
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.writer.WriteFrame(data)
}

// AddConn registers an already-accepted connection and starts its read
// loop. Exposed so tests (and a surrounding server wiring its own
// accept loop) can feed in pre-built net.Conn pairs.
func (t *TCP) AddConn(conn net.Conn) {
	t.trackAndServe(conn)
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				if t.log != nil {
					t.log.Warnf("gwtransport: TCP accept error: %v", err)
				}
				continue
			}
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.trackAndServe(conn)
		}()
	}
}

func (t *TCP) trackAndServe(conn net.Conn) {
	tc := &tcpConn{conn: conn, writer: NewStreamWriter(conn)}
	key := conn.RemoteAddr().String()

	t.connsMu.Lock()
	t.conns[key] = tc
	t.connsMu.Unlock()

	defer func() {
		t.connsMu.Lock()
		delete(t.conns, key)
		t.connsMu.Unlock()
		conn.Close()
	}()

	reader := NewStreamReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF && t.log != nil {
				t.log.Debugf("gwtransport: TCP peer %v disconnected: %v", key, err)
			}
			return
		}
		h, err := knxip.ParseHeader(frame)
		if err != nil {
			if t.log != nil {
				t.log.Warnf("gwtransport: dropping malformed TCP frame from %v: %v", key, err)
			}
			continue
		}
		t.dispatcher.Dispatch(h, h.Body(frame), NewTCPPeerAddress(conn.RemoteAddr()))
	}
}

// LocalAddr returns the bound listener address.
func (t *TCP) LocalAddr() net.Addr { return t.listener.Addr() }
