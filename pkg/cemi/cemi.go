// Package cemi models the cEMI (Common External Message Interface) frame
// exchanged between a KNXnet/IP data-endpoint handler and the KNX subnet
// side of a gateway. The wire encoding of a cEMI frame's service-specific
// payload is not part of this module's scope; a frame is carried as an
// opaque byte buffer tagged with its message code so the protocol engine
// can apply role and service policy without parsing frame internals.
package cemi

import "errors"

// MessageCode identifies the cEMI service a frame carries (first octet of
// the frame on the wire).
type MessageCode byte

// Message codes referenced by the data-endpoint dispatch policy. Only the
// codes the gateway core inspects are named; any other value is treated as
// an opaque, unrecognized service and left to the dispatch policy to
// reject or forward.
const (
	LDataReq    MessageCode = 0x11
	LDataCon    MessageCode = 0x2E
	LDataInd    MessageCode = 0x29
	BusmonInd   MessageCode = 0x2B
	ResetReq    MessageCode = 0xF1
	ResetInd    MessageCode = 0xF0
	PropReadReq MessageCode = 0xFC
	PropReadCon MessageCode = 0xFB
	PropWriteReq MessageCode = 0xF6
	PropWriteCon MessageCode = 0xF5
	PropInfoInd MessageCode = 0xF7
)

// Class groups message codes by the cEMI frame class a channel role
// expects to exchange, mirroring the role check the original handler
// performs before accepting a frame for dispatch.
type Class int

const (
	ClassUnknown Class = iota
	ClassLData
	ClassBusMon
	ClassDevMgmt
)

// ErrUnknownClass is returned by ClassOf for a message code this module
// does not recognize.
var ErrUnknownClass = errors.New("cemi: unrecognized message code")

// ClassOf reports which cEMI frame class a message code belongs to.
func ClassOf(mc MessageCode) (Class, error) {
	switch mc {
	case LDataReq, LDataCon, LDataInd:
		return ClassLData, nil
	case BusmonInd:
		return ClassBusMon, nil
	case ResetReq, ResetInd, PropReadReq, PropReadCon, PropWriteReq, PropWriteCon, PropInfoInd:
		return ClassDevMgmt, nil
	default:
		return ClassUnknown, ErrUnknownClass
	}
}

// Frame is an opaque cEMI frame: a message code plus its raw
// service-specific payload. The payload is never interpreted by this
// module beyond the source-address patch applied by ReplaceSourceAddress.
type Frame struct {
	Code    MessageCode
	Payload []byte
}

// Parse extracts a Frame from a raw cEMI byte buffer. The buffer must be
// at least one byte (the message code); remaining bytes are the payload.
func Parse(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return Frame{}, errors.New("cemi: empty frame")
	}
	payload := make([]byte, len(raw)-1)
	copy(payload, raw[1:])
	return Frame{Code: MessageCode(raw[0]), Payload: payload}, nil
}

// Bytes serializes the frame back to its wire form.
func (f Frame) Bytes() []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = byte(f.Code)
	copy(out[1:], f.Payload)
	return out
}

// IsResetRequest reports whether the frame is a device-management
// Reset.req, the one message code that triggers the gateway's reset
// callback when a device-management channel dispatches it.
func (f Frame) IsResetRequest() bool {
	return f.Code == ResetReq
}

// sourceAddressOffset is the byte offset of the 2-byte source individual
// address within an L_Data.req additional-info-free control field layout:
// message code(1) already stripped, add-info length(1), ctrl1(1), ctrl2(1),
// src(2), dst(2), ... . Frames with non-zero additional info are left
// untouched since this module does not parse extended cEMI layouts.
const sourceAddressOffset = 3

// ReplaceSourceAddress rewrites the embedded source individual address of
// an L_Data.req frame when the client left it as 0/0/0, substituting the
// channel's assigned device address. Frames that already carry a non-zero
// source, or that are not L_Data.req, are returned unchanged.
func (f Frame) ReplaceSourceAddress(addr uint16) Frame {
	if f.Code != LDataReq {
		return f
	}
	if len(f.Payload) < sourceAddressOffset+2 {
		return f
	}
	if f.Payload[0] != 0 {
		// Additional info present; offsets shift and this module does not
		// know how to locate the source field reliably.
		return f
	}
	if f.Payload[sourceAddressOffset] != 0 || f.Payload[sourceAddressOffset+1] != 0 {
		return f
	}
	out := Frame{Code: f.Code, Payload: make([]byte, len(f.Payload))}
	copy(out.Payload, f.Payload)
	out.Payload[sourceAddressOffset] = byte(addr >> 8)
	out.Payload[sourceAddressOffset+1] = byte(addr)
	return out
}
