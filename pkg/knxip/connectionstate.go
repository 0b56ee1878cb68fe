package knxip

import "errors"

// ErrInvalidConnectionstateBody is returned when a CONNECTIONSTATE_REQ body
// fails structural validation.
var ErrInvalidConnectionstateBody = errors.New("knxip: invalid connectionstate body")

// ConnectionstateReq is a CONNECTIONSTATE_REQ body: a channel id, a
// reserved octet, and the client's embedded control HPAI.
type ConnectionstateReq struct {
	ChannelID uint8
	CtrlHPAI  HPAI
}

// ParseConnectionstateReq decodes a CONNECTIONSTATE_REQ body.
func ParseConnectionstateReq(buf []byte) (ConnectionstateReq, error) {
	if len(buf) < 2+HPAISize {
		return ConnectionstateReq{}, ErrInvalidConnectionstateBody
	}
	hpai, _, err := ParseHPAI(buf[2:])
	if err != nil {
		return ConnectionstateReq{}, err
	}
	return ConnectionstateReq{ChannelID: buf[0], CtrlHPAI: hpai}, nil
}

// ConnectionstateRes is a CONNECTIONSTATE_RES body: a channel id and a
// status byte.
type ConnectionstateRes struct {
	ChannelID uint8
	Status    byte
}

// Bytes serializes a CONNECTIONSTATE_RES body.
func (r ConnectionstateRes) Bytes() []byte {
	return []byte{r.ChannelID, r.Status}
}
