package knxip

import "errors"

// ConnectionHeaderSize is the length of the connection header prefixing a
// TUNNELING_REQUEST/DEVICE_CONFIGURATION_REQUEST/_ACK body: structure
// length, channel id, sequence counter, a reserved octet.
const ConnectionHeaderSize = 4

// ErrInvalidConnectionHeader is returned when a request/ack body's
// connection header fails structural validation.
var ErrInvalidConnectionHeader = errors.New("knxip: invalid connection header")

// ConnectionHeader is the per-message header carried by TUNNELING_REQUEST,
// TUNNELING_ACK, DEVICE_CONFIGURATION_REQUEST and
// DEVICE_CONFIGURATION_ACK service bodies.
type ConnectionHeader struct {
	ChannelID uint8
	SeqNumber uint8
}

// ParseConnectionHeader decodes a ConnectionHeader from the front of buf.
func ParseConnectionHeader(buf []byte) (ConnectionHeader, error) {
	if len(buf) < ConnectionHeaderSize {
		return ConnectionHeader{}, ErrInvalidConnectionHeader
	}
	if buf[0] != ConnectionHeaderSize {
		return ConnectionHeader{}, ErrInvalidConnectionHeader
	}
	return ConnectionHeader{ChannelID: buf[1], SeqNumber: buf[2]}, nil
}

// Bytes serializes the connection header. The reserved octet is always 0.
func (c ConnectionHeader) Bytes() []byte {
	return []byte{ConnectionHeaderSize, c.ChannelID, c.SeqNumber, 0}
}

// Request is a TUNNELING_REQUEST or DEVICE_CONFIGURATION_REQUEST body: a
// connection header followed by an opaque cEMI frame.
type Request struct {
	ConnectionHeader
	CEMI []byte
}

// ParseRequest decodes a request body.
func ParseRequest(buf []byte) (Request, error) {
	ch, err := ParseConnectionHeader(buf)
	if err != nil {
		return Request{}, err
	}
	cemi := make([]byte, len(buf)-ConnectionHeaderSize)
	copy(cemi, buf[ConnectionHeaderSize:])
	return Request{ConnectionHeader: ch, CEMI: cemi}, nil
}

// Bytes serializes the request body.
func (r Request) Bytes() []byte {
	out := append(r.ConnectionHeader.Bytes(), r.CEMI...)
	return out
}

// Ack is a TUNNELING_ACK or DEVICE_CONFIGURATION_ACK body: a connection
// header followed by a one-byte status code.
type Ack struct {
	ConnectionHeader
	Status byte
}

// ParseAck decodes an ack body.
func ParseAck(buf []byte) (Ack, error) {
	ch, err := ParseConnectionHeader(buf)
	if err != nil {
		return Ack{}, err
	}
	if len(buf) < ConnectionHeaderSize+1 {
		return Ack{}, ErrInvalidConnectionHeader
	}
	return Ack{ConnectionHeader: ch, Status: buf[ConnectionHeaderSize]}, nil
}

// Bytes serializes the ack body.
func (a Ack) Bytes() []byte {
	return append(a.ConnectionHeader.Bytes(), a.Status)
}
