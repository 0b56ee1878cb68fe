package knxip

import (
	"bytes"
	"testing"
)

func TestParseHeaderRoundTrip(t *testing.T) {
	h := NewHeader(SvcTunnelingReq, 4)
	body := []byte{0x04, 0x07, 0x00, 0x00}
	frame := h.Bytes(body)

	got, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got.ServiceType != SvcTunnelingReq {
		t.Errorf("ServiceType = %v, want %v", got.ServiceType, SvcTunnelingReq)
	}
	if !got.CheckVersion() {
		t.Errorf("expected valid version")
	}
	if !bytes.Equal(got.Body(frame), body) {
		t.Errorf("Body() = %x, want %x", got.Body(frame), body)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		err  error
	}{
		{"truncated", []byte{0x06, 0x10, 0x04}, ErrTruncated},
		{"bad header size", []byte{0x05, 0x10, 0x04, 0x20, 0x00, 0x06}, ErrBadHeaderSize},
		{"total length too long", []byte{0x06, 0x10, 0x04, 0x20, 0x00, 0xFF}, ErrFrameTooShort},
		{"zero service", []byte{0x06, 0x10, 0x00, 0x00, 0x00, 0x06}, ErrZeroServiceType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.buf)
			if err != tt.err {
				t.Errorf("ParseHeader() err = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestCheckVersionMismatch(t *testing.T) {
	h := Header{Version: 0x11, ServiceType: SvcTunnelingReq, TotalLength: HeaderSize}
	if h.CheckVersion() {
		t.Error("expected version mismatch to be detected")
	}
}

func TestHPAIRoundTrip(t *testing.T) {
	h := HPAI{Protocol: HostProtocolIPv4UDP, Addr: [4]byte{192, 168, 1, 1}, Port: 3671}
	buf := h.Bytes()
	got, n, err := ParseHPAI(buf)
	if err != nil {
		t.Fatalf("ParseHPAI: %v", err)
	}
	if n != HPAISize {
		t.Errorf("n = %d, want %d", n, HPAISize)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestHPAIIsAnyLocalOrZeroPort(t *testing.T) {
	if !(HPAI{}).IsAnyLocalOrZeroPort() {
		t.Error("zero HPAI expected to be any-local")
	}
	h := HPAI{Addr: [4]byte{10, 0, 0, 1}, Port: 3671}
	if h.IsAnyLocalOrZeroPort() {
		t.Error("concrete HPAI should not be any-local")
	}
}

func TestRequestAckRoundTrip(t *testing.T) {
	req := Request{ConnectionHeader: ConnectionHeader{ChannelID: 7, SeqNumber: 0}, CEMI: []byte{0x11, 0x00, 0xBC, 0xE0}}
	buf := req.Bytes()
	got, err := ParseRequest(buf)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got.ChannelID != 7 || got.SeqNumber != 0 {
		t.Errorf("got %+v", got.ConnectionHeader)
	}
	if !bytes.Equal(got.CEMI, req.CEMI) {
		t.Errorf("CEMI = %x, want %x", got.CEMI, req.CEMI)
	}

	ack := Ack{ConnectionHeader: ConnectionHeader{ChannelID: 7, SeqNumber: 0}, Status: ErrNoError}
	abuf := ack.Bytes()
	gotAck, err := ParseAck(abuf)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if gotAck != ack {
		t.Errorf("got %+v, want %+v", gotAck, ack)
	}
}

func TestStaticFeatureValue(t *testing.T) {
	v, ok := StaticFeatureValue(FeatureIndividualAddress)
	if ok {
		t.Error("IndividualAddress should not be a static value")
	}
	v, ok = StaticFeatureValue(FeatureMaxApduLength)
	if !ok || !bytes.Equal(v, []byte{0x00, 0x0F}) {
		t.Errorf("MaxApduLength = %x, ok=%v", v, ok)
	}
}
