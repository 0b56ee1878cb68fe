package gwtransport

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/backkem/knxip-gateway/pkg/knxip"
)

// StreamReader delimits KNXnet/IP frames on a TCP byte stream. Unlike a
// generic length-prefixed protocol, KNXnet/IP frames are self-describing:
// the 6-byte header's own total-length field tells the reader exactly how
// many more bytes complete the frame, so no additional framing layer is
// needed on top of the wire format the UDP side already uses.
type StreamReader struct {
	r *bufio.Reader
}

// NewStreamReader wraps r for frame-at-a-time reads.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, MaxMessageSize)}
}

// ReadFrame blocks until one complete KNXnet/IP frame (header + body) has
// been read, or returns an error from the underlying reader.
func (sr *StreamReader) ReadFrame() ([]byte, error) {
	head := make([]byte, knxip.HeaderSize)
	if _, err := io.ReadFull(sr.r, head); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	if head[0] != knxip.HeaderSize {
		return nil, knxip.ErrBadHeaderSize
	}
	total := int(binary.BigEndian.Uint16(head[4:6]))
	if total < knxip.HeaderSize {
		return nil, knxip.ErrTruncated
	}
	if total > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	frame := make([]byte, total)
	copy(frame, head)
	if total > knxip.HeaderSize {
		if _, err := io.ReadFull(sr.r, frame[knxip.HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// StreamWriter writes whole KNXnet/IP frames to a TCP connection. Frames
// are already wire-ready (header included), so no extra framing is
// applied; the method exists to keep writes under a single lock at the
// call site in TCP.Send.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter wraps w for frame writes.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteFrame writes one complete, already-serialized KNXnet/IP frame.
func (sw *StreamWriter) WriteFrame(frame []byte) error {
	_, err := sw.w.Write(frame)
	return err
}
