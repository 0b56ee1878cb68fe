package knxip

import (
	"encoding/binary"
	"errors"
	"net"
)

// HPAISize is the encoded length of a Host Protocol Address Information
// structure: length octet, host protocol code, 4-byte IPv4 address,
// 2-byte port.
const HPAISize = 8

// HostProtocol identifies the transport an HPAI describes.
type HostProtocol byte

const (
	HostProtocolIPv4UDP HostProtocol = 0x01
	HostProtocolIPv4TCP HostProtocol = 0x02
)

// ErrInvalidHPAI is returned when an HPAI structure fails to parse.
var ErrInvalidHPAI = errors.New("knxip: invalid HPAI structure")

// HPAI is a Host Protocol Address Information structure: an endpoint
// address as exchanged in KNXnet/IP connection bodies.
type HPAI struct {
	Protocol HostProtocol
	Addr     [4]byte
	Port     uint16
}

// ParseHPAI decodes an HPAI from the front of buf.
func ParseHPAI(buf []byte) (HPAI, int, error) {
	if len(buf) < HPAISize {
		return HPAI{}, 0, ErrInvalidHPAI
	}
	if buf[0] != HPAISize {
		return HPAI{}, 0, ErrInvalidHPAI
	}
	h := HPAI{Protocol: HostProtocol(buf[1])}
	copy(h.Addr[:], buf[2:6])
	h.Port = binary.BigEndian.Uint16(buf[6:8])
	return h, HPAISize, nil
}

// Bytes serializes the HPAI.
func (h HPAI) Bytes() []byte {
	out := make([]byte, HPAISize)
	out[0] = HPAISize
	out[1] = byte(h.Protocol)
	copy(out[2:6], h.Addr[:])
	binary.BigEndian.PutUint16(out[6:8], h.Port)
	return out
}

// IsAnyLocalOrZeroPort reports whether the HPAI names the unspecified
// address or port zero, the form a client behind NAT uses to ask for
// responses at the address its request datagram actually came from.
func (h HPAI) IsAnyLocalOrZeroPort() bool {
	return h.Addr == [4]byte{} || h.Port == 0
}

// UDPAddr converts the HPAI to a *net.UDPAddr for transport use.
func (h HPAI) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(h.Addr[:]), Port: int(h.Port)}
}

// HPAIFromUDPAddr builds an HPAI describing a UDP endpoint.
func HPAIFromUDPAddr(addr *net.UDPAddr) HPAI {
	var h HPAI
	h.Protocol = HostProtocolIPv4UDP
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(h.Addr[:], ip4)
	}
	h.Port = uint16(addr.Port)
	return h
}
