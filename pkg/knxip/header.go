// Package knxip implements the KNXnet/IP frame codec: the 6-byte header
// common to every service, the HPAI structure, and the request/ack/feature
// bodies the data-endpoint handler and secure session layer exchange. It
// does not implement discovery, connect, or disconnect services; those are
// out of scope for this module.
package knxip

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed length of a KNXnet/IP frame header.
const HeaderSize = 6

// ProtocolVersion10 is the only header version this codec accepts.
const ProtocolVersion10 byte = 0x10

// ServiceType identifies a KNXnet/IP service by its 16-bit code.
type ServiceType uint16

// Service type codes the data-endpoint handler and secure session layer
// dispatch on. Discovery/connect/disconnect codes are included only where
// a channel's compatibility quirk (CONNECTIONSTATE_REQ) requires them.
const (
	SvcConnectionstateReq      ServiceType = 0x0207
	SvcConnectionstateRes      ServiceType = 0x0208
	SvcTunnelingReq            ServiceType = 0x0420
	SvcTunnelingAck            ServiceType = 0x0421
	SvcDeviceConfigurationReq  ServiceType = 0x0310
	SvcDeviceConfigurationAck  ServiceType = 0x0311
	SvcTunnelingFeatureGet     ServiceType = 0x0422
	SvcTunnelingFeatureRes     ServiceType = 0x0423
	SvcTunnelingFeatureSet     ServiceType = 0x0424
	SvcTunnelingFeatureInfo    ServiceType = 0x0425
	SvcSecureWrapper           ServiceType = 0x0950
	SvcSessionReq              ServiceType = 0x0951
	SvcSessionRes              ServiceType = 0x0952
	SvcSessionAuth             ServiceType = 0x0953
	SvcSessionStatus           ServiceType = 0x0954
)

// Error codes carried in ack status bytes, per the KNXnet/IP common error
// code table.
const (
	ErrNoError              byte = 0x00
	ErrHostProtocolType     byte = 0x01
	ErrVersionNotSupported  byte = 0x02
	ErrKnxConnection        byte = 0x0C
)

var (
	// ErrTruncated is returned when fewer than HeaderSize bytes are
	// available to parse a header.
	ErrTruncated = errors.New("knxip: frame shorter than header")
	// ErrBadHeaderSize is returned when the header-size octet is not 0x06.
	ErrBadHeaderSize = errors.New("knxip: invalid header size octet")
	// ErrFrameTooShort is returned when the header's declared total
	// length exceeds the number of bytes actually available.
	ErrFrameTooShort = errors.New("knxip: total length exceeds buffer")
	// ErrZeroServiceType is returned for a header whose service type is
	// the reserved value 0, which a sender never legitimately produces.
	ErrZeroServiceType = errors.New("knxip: service type is zero")
)

// Header is the common 6-byte KNXnet/IP frame header.
type Header struct {
	Version     byte
	ServiceType ServiceType
	TotalLength uint16
}

// ParseHeader decodes the header from the front of buf and validates it
// against the same checks the service loop applies before dispatch:
// the structural header-size octet must read 0x06, the declared total
// length must not exceed the bytes actually received, and the service
// type must not be the reserved zero value.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}
	if buf[0] != HeaderSize {
		return Header{}, ErrBadHeaderSize
	}
	h := Header{
		Version:     buf[1],
		ServiceType: ServiceType(binary.BigEndian.Uint16(buf[2:4])),
		TotalLength: binary.BigEndian.Uint16(buf[4:6]),
	}
	if int(h.TotalLength) > len(buf) {
		return Header{}, ErrFrameTooShort
	}
	if h.ServiceType == 0 {
		return Header{}, ErrZeroServiceType
	}
	return h, nil
}

// CheckVersion reports whether the header carries the one protocol
// version this codec understands.
func (h Header) CheckVersion() bool {
	return h.Version == ProtocolVersion10
}

// Body returns the service body following the header within buf, using
// the header's own TotalLength rather than len(buf), so that a frame
// delivered with trailing garbage (possible over a stream transport) is
// not over-read.
func (h Header) Body(buf []byte) []byte {
	if int(h.TotalLength) > len(buf) || int(h.TotalLength) < HeaderSize {
		return nil
	}
	return buf[HeaderSize:h.TotalLength]
}

// Bytes serializes the header plus the given body into a complete frame,
// computing TotalLength automatically.
func (h Header) Bytes(body []byte) []byte {
	total := HeaderSize + len(body)
	out := make([]byte, total)
	out[0] = HeaderSize
	out[1] = h.Version
	binary.BigEndian.PutUint16(out[2:4], uint16(h.ServiceType))
	binary.BigEndian.PutUint16(out[4:6], uint16(total))
	copy(out[HeaderSize:], body)
	return out
}

// NewHeader builds a Header for svc at protocol version 1.0, with
// TotalLength computed from bodyLen.
func NewHeader(svc ServiceType, bodyLen int) Header {
	return Header{
		Version:     ProtocolVersion10,
		ServiceType: svc,
		TotalLength: uint16(HeaderSize + bodyLen),
	}
}
