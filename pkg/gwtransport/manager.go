package gwtransport

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
)

// Manager owns one UDP socket and, optionally, one TCP listener side by
// side, giving each data-endpoint channel a single Send entry point that
// prefers a peer's registered TCP fallback connection over UDP — the
// strategy object the design notes call for in place of a global lookup
// inside Send.
type Manager struct {
	udp *UDP
	tcp *TCP

	mu      sync.RWMutex
	started bool
	closed  bool
}

// ManagerConfig configures the transport manager.
type ManagerConfig struct {
	// Port is the UDP/TCP listen port. Defaults to DefaultPort.
	Port int

	UDPEnabled bool
	TCPEnabled bool

	// Dispatcher receives every sanitized frame from either transport.
	// Required.
	Dispatcher Dispatcher

	// UDPConn/TCPListener let tests supply pre-built sockets.
	UDPConn     net.PacketConn
	TCPListener net.Listener

	LoggerFactory logging.LoggerFactory
}

// NewManager builds a Manager from cfg.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if !cfg.UDPEnabled && !cfg.TCPEnabled {
		cfg.UDPEnabled = true
		cfg.TCPEnabled = true
	}

	m := &Manager{}
	listenAddr := fmt.Sprintf(":%d", cfg.Port)

	if cfg.UDPEnabled {
		udp, err := NewUDP(UDPConfig{
			Conn:          cfg.UDPConn,
			ListenAddr:    listenAddr,
			Dispatcher:    cfg.Dispatcher,
			LoggerFactory: cfg.LoggerFactory,
		})
		if err != nil {
			return nil, fmt.Errorf("gwtransport: creating UDP transport: %w", err)
		}
		m.udp = udp
	}

	if cfg.TCPEnabled {
		tcp, err := NewTCP(TCPConfig{
			Listener:      cfg.TCPListener,
			ListenAddr:    listenAddr,
			Dispatcher:    cfg.Dispatcher,
			LoggerFactory: cfg.LoggerFactory,
		})
		if err != nil {
			if m.udp != nil {
				m.udp.Stop()
			}
			return nil, fmt.Errorf("gwtransport: creating TCP transport: %w", err)
		}
		m.tcp = tcp
	}

	return m, nil
}

// Start begins listening on every enabled transport.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if m.udp != nil {
		if err := m.udp.Start(); err != nil {
			return fmt.Errorf("gwtransport: starting UDP: %w", err)
		}
	}
	if m.tcp != nil {
		if err := m.tcp.Start(); err != nil {
			if m.udp != nil {
				m.udp.Stop()
			}
			return fmt.Errorf("gwtransport: starting TCP: %w", err)
		}
	}
	return nil
}

// Stop closes every enabled transport.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	var firstErr error
	if m.udp != nil {
		if err := m.udp.Stop(); err != nil && err != ErrClosed && firstErr == nil {
			firstErr = err
		}
	}
	if m.tcp != nil {
		if err := m.tcp.Stop(); err != nil && err != ErrClosed && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send delivers data to addr, preferring a peer's registered TCP fallback
// connection (§4.1's "if this data endpoint has a TCP connection, use it")
// and otherwise sending over UDP.
func (m *Manager) Send(data []byte, addr net.Addr) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	if m.tcp != nil && m.tcp.HasPeer(addr) {
		return m.tcp.Send(data, addr)
	}
	if m.udp == nil {
		return fmt.Errorf("gwtransport: no UDP transport enabled")
	}
	return m.udp.Send(data, addr)
}

// HasPeer reports whether addr has a registered TCP fallback connection,
// satisfying channel.TCPAware so a Channel can decide whether Send should
// take the non-blocking TCP path instead of the blocking UDP request/ack
// path.
func (m *Manager) HasPeer(addr net.Addr) bool {
	if m.tcp == nil {
		return false
	}
	return m.tcp.HasPeer(addr)
}

// UDP returns the UDP transport, or nil if disabled.
func (m *Manager) UDP() *UDP { return m.udp }

// TCP returns the TCP transport, or nil if disabled.
func (m *Manager) TCP() *TCP { return m.tcp }

// LocalAddresses returns every local address the manager is listening on.
func (m *Manager) LocalAddresses() []net.Addr {
	var addrs []net.Addr
	if m.udp != nil {
		addrs = append(addrs, m.udp.LocalAddr())
	}
	if m.tcp != nil {
		addrs = append(addrs, m.tcp.LocalAddr())
	}
	return addrs
}
