// knxip-gateway is a minimal KNXnet/IP gateway example binary.
//
// It wires the frame codec, secure session layer, and data-endpoint
// handler over a real UDP (and, unless disabled, TCP) socket, and
// registers one statically configured tunneling channel so a client can
// be pointed at it without a control-endpoint CONNECT_REQ exchange, which
// this module does not implement.
//
// Usage:
//
//	knxip-gateway [options]
//
// Options:
//
//	-port        UDP/TCP listen port (default: 3671)
//	-address     Assigned KNX individual address for the demo channel, e.g. 1.1.2 (default: 1.1.2)
//	-remote      Client UDP address the demo tunneling channel accepts requests from, host:port
//	-dm-remote   Client UDP address the demo device-management channel accepts requests from, host:port
//	-no-tcp      Disable the TCP fallback listener
//	-secure      Stand up the secure session store alongside the plaintext path
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/backkem/knxip-gateway/pkg/cemi"
	"github.com/backkem/knxip-gateway/pkg/channel"
	"github.com/backkem/knxip-gateway/pkg/gwtransport"
	"github.com/backkem/knxip-gateway/pkg/knxip"
	"github.com/backkem/knxip-gateway/pkg/secure"
	"github.com/pion/logging"
)

func main() {
	port := flag.Int("port", gwtransport.DefaultPort, "UDP/TCP listen port")
	addrFlag := flag.String("address", "1.1.2", "assigned KNX individual address for the demo channel")
	remoteFlag := flag.String("remote", "", "client UDP address the demo tunneling channel accepts requests from (host:port)")
	dmRemoteFlag := flag.String("dm-remote", "", "client UDP address the demo device-management channel accepts requests from (host:port)")
	noTCP := flag.Bool("no-tcp", false, "disable the TCP fallback listener")
	secureEnabled := flag.Bool("secure", false, "stand up the secure session store alongside the plaintext path")
	flag.Parse()

	addr, err := parseIndividualAddress(*addrFlag)
	if err != nil {
		log.Fatalf("knxip-gateway: %v", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	logger := lf.NewLogger("knxip-gateway")

	reg := newRegistry()
	bus := &logBus{log: lf.NewLogger("bus")}
	ctrl := &logControlEndpoint{log: lf.NewLogger("ctrl")}

	var store *secure.Store
	if *secureEnabled {
		store = secure.NewStore(secure.Config{LoggerFactory: lf})
	}

	var router *gwtransport.Router
	manager, err := gwtransport.NewManager(gwtransport.ManagerConfig{
		Port:       *port,
		UDPEnabled: true,
		TCPEnabled: !*noTCP,
		LoggerFactory: lf,
		Dispatcher: gwtransport.DispatcherFunc(func(h knxip.Header, payload []byte, src gwtransport.PeerAddress) bool {
			return router.Dispatch(h, payload, src)
		}),
	})
	if err != nil {
		log.Fatalf("knxip-gateway: %v", err)
	}

	router = gwtransport.NewRouter(storeOrNil(store), reg, manager, lf)
	ctrl.sender = manager

	if *remoteFlag != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", *remoteFlag)
		if err != nil {
			log.Fatalf("knxip-gateway: resolving -remote: %v", err)
		}
		ch := channel.NewChannel(channel.Config{
			ChannelID:       1,
			Role:            channel.RoleTunnelingLinkLayer,
			AssignedAddress: addr,
			RemoteControl:   remoteAddr,
			RemoteData:      remoteAddr,
			DataSender:      manager,
			Ctrl:            ctrl,
			Registry:        reg,
			Bus:             bus,
			LoggerFactory:   lf,
			OnClosed: func(id uint8, reason channel.CloseReason) {
				logger.Infof("channel %d closed: %v", id, reason)
				reg.remove(id)
			},
		}, time.Now())
		reg.add(ch)
		logger.Infof("registered demo tunneling channel 1 for %v, assigned address %s", remoteAddr, *addrFlag)
	}

	var dmBinding *gwtransport.DataBinding
	if *dmRemoteFlag != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", *dmRemoteFlag)
		if err != nil {
			log.Fatalf("knxip-gateway: resolving -dm-remote: %v", err)
		}
		// Device-management channels bind their own dedicated socket
		// instead of sharing the manager's, the architecture the §4.1
		// port-mismatch recovery quirk depends on for its failure mode to
		// exist at all. binding starts with no handler; it is rebound to
		// the channel once the channel exists, mirroring the chicken-and-
		// egg wiring that recoverPortMismatch resolves at runtime for a
		// channel that is rebound by a peer instead.
		binding, err := gwtransport.NewDataBinding(nil, gwtransport.UDPConfig{
			ListenAddr:    ":0",
			LoggerFactory: lf,
		})
		if err != nil {
			log.Fatalf("knxip-gateway: opening device-management socket: %v", err)
		}
		dmCh := channel.NewChannel(channel.Config{
			ChannelID:     2,
			Role:          channel.RoleDeviceManagement,
			RemoteControl: remoteAddr,
			RemoteData:    remoteAddr,
			DataSender:    binding,
			Ctrl:          ctrl,
			Registry:      reg,
			Bus:           bus,
			LoggerFactory: lf,
			OnClosed: func(id uint8, reason channel.CloseReason) {
				logger.Infof("channel %d closed: %v", id, reason)
				reg.remove(id)
			},
		}, time.Now())
		binding.Rebind(dmCh)
		reg.add(dmCh)
		dmBinding = binding
		logger.Infof("registered demo device-management channel 2 for %v on dedicated socket %v", remoteAddr, binding.LocalAddr())
	}

	if dmBinding != nil {
		if err := dmBinding.Start(); err != nil {
			log.Fatalf("knxip-gateway: starting device-management socket: %v", err)
		}
		defer dmBinding.Stop()
	}

	if err := manager.Start(); err != nil {
		log.Fatalf("knxip-gateway: starting transport: %v", err)
	}
	logger.Infof("listening on %v", manager.LocalAddresses())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sweepTicker := time.NewTicker(30 * time.Second)
	defer sweepTicker.Stop()

	for {
		select {
		case <-stop:
			logger.Info("shutting down")
			manager.Stop()
			return
		case now := <-sweepTicker.C:
			if store != nil {
				for _, ev := range store.Sweep(now) {
					if ev.Packet != nil {
						manager.Send(ev.Packet, ev.Client)
					}
				}
			}
			for _, ch := range reg.all() {
				if ch.Tick(now) > channel.HeartbeatTimeout {
					ch.Close(channel.InitiatorSweep, channel.CloseReasonHeartbeatTimeout)
				}
			}
		}
	}
}

func storeOrNil(s *secure.Store) gwtransport.SecureStore {
	if s == nil {
		return nil
	}
	return s
}

// parseIndividualAddress parses the dotted KNX individual address notation
// area.line.device into its packed 16-bit form.
func parseIndividualAddress(s string) (uint16, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid individual address %q: want area.line.device", s)
	}
	area, err := strconv.Atoi(parts[0])
	if err != nil || area < 0 || area > 15 {
		return 0, fmt.Errorf("invalid area in %q", s)
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil || line < 0 || line > 15 {
		return 0, fmt.Errorf("invalid line in %q", s)
	}
	device, err := strconv.Atoi(parts[2])
	if err != nil || device < 0 || device > 255 {
		return 0, fmt.Errorf("invalid device in %q", s)
	}
	return uint16(area)<<12 | uint16(line)<<8 | uint16(device), nil
}

// registry is the in-memory channel.Registry this example binary keeps;
// a full gateway would populate it dynamically from CONNECT_REQ handling.
type registry struct {
	mu       sync.RWMutex
	channels map[uint8]*channel.Channel
}

func newRegistry() *registry {
	return &registry{channels: make(map[uint8]*channel.Channel)}
}

func (r *registry) add(ch *channel.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
}

func (r *registry) remove(id uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

func (r *registry) all() []*channel.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

func (r *registry) FindByChannel(id uint8) (channel.DataEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// logBus is a demo Bus that logs every frame a channel dispatches upward
// instead of driving a real KNX subnet connection, which is out of scope.
type logBus struct {
	log logging.LeveledLogger
}

func (b *logBus) FrameReceived(channelID uint8, frame cemi.Frame) {
	b.log.Infof("channel %d: frame code 0x%02x, %d byte payload", channelID, byte(frame.Code), len(frame.Payload))
}

func (b *logBus) ResetRequested(channelID uint8) {
	b.log.Infof("channel %d: reset requested", channelID)
}

// logControlEndpoint is a demo ControlEndpoint that always reports the
// subnet as connected.
type logControlEndpoint struct {
	log    logging.LeveledLogger
	sender interface {
		Send(data []byte, addr net.Addr) error
	}
}

func (c *logControlEndpoint) Send(data []byte, addr net.Addr) error {
	return c.sender.Send(data, addr)
}

func (c *logControlEndpoint) SubnetStatus(channelID uint8) byte {
	return 0x00
}
