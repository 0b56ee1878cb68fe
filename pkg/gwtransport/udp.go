package gwtransport

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/pion/logging"
)

// DefaultPort is the IANA-assigned KNXnet/IP port.
const DefaultPort = 3671

// UDP is the read loop and send path for one UDP socket (control or data
// endpoint). It parses and sanitizes the 6-byte KNXnet/IP header before
// handing the body to the configured Dispatcher, per the service-loop
// adapter contract.
type UDP struct {
	conn       net.PacketConn
	dispatcher Dispatcher
	closeCh    chan struct{}
	wg         sync.WaitGroup
	log        logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn (tests supply a fake).
	Conn net.PacketConn
	// ListenAddr is used to create a socket when Conn is nil.
	ListenAddr string
	// Dispatcher receives sanitized frames. Required.
	Dispatcher    Dispatcher
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a UDP transport from cfg.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	u := &UDP{
		conn:       cfg.Conn,
		dispatcher: cfg.Dispatcher,
		closeCh:    make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		u.log = cfg.LoggerFactory.NewLogger("gwtransport-udp")
	}
	if u.conn == nil {
		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}
	return u, nil
}

// Start begins the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("gwtransport: UDP listening on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	close(u.closeCh)
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()
	return nil
}

// Send writes a wire-ready datagram to addr.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	u.mu.RUnlock()

	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	_, err := u.conn.WriteTo(data, addr)
	if err != nil && u.log != nil {
		u.log.Warnf("gwtransport: UDP send to %v failed: %v", addr, err)
	}
	return err
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDP) readLoop() {
	defer u.wg.Done()
	buf := make([]byte, MaxMessageSize)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("gwtransport: UDP read error: %v", err)
				}
				continue
			}
		}
		if n == 0 {
			continue
		}
		u.handle(buf[:n], NewUDPPeerAddress(addr))
	}
}

// handle parses and sanitizes the header per the service-loop adapter
// contract (§4.3) and hands the body to the dispatcher. Malformed frames
// are logged and dropped, never propagated as a read-loop error.
func (u *UDP) handle(data []byte, src PeerAddress) {
	h, err := knxip.ParseHeader(data)
	if err != nil {
		if u.log != nil {
			u.log.Warnf("gwtransport: dropping malformed frame from %v: %v", src, err)
		}
		return
	}
	body := h.Body(data)
	if u.dispatcher.Dispatch(h, body, src) {
		return
	}
	if u.log != nil {
		u.log.Debugf("gwtransport: no handler for service 0x%04x from %v", h.ServiceType, src)
	}
}
