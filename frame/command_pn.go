package frame

import "fmt"

// CreditHandshake is the convergence-layer nibble of a Parameter
// Negotiation command, used to handshake credit-based flow control
// (RFCOMM 5.5.3).
type CreditHandshake uint8

const (
	HandshakeUnsupported       CreditHandshake = 0x0
	HandshakeSupportedRequest  CreditHandshake = 0xF
	HandshakeSupportedResponse CreditHandshake = 0xE
)

// ParamNegotiation negotiates per-DLC parameters before the DLC is
// opened. Only the max frame size, the credit handshake and the initial
// credit count are actively negotiated; T1 and N2 are fixed at zero as
// RFCOMM requires.
type ParamNegotiation struct {
	CR             CommandResponse
	DLCI           DLCI
	Priority       uint8
	Handshake      CreditHandshake
	MaxFrameSize   uint16
	InitialCredits uint8
}

func (c *ParamNegotiation) Type() CommandType { return CommandPN }

func (c *ParamNegotiation) Direction() CommandResponse { return c.CR }

func (c *ParamNegotiation) Key() CommandKey {
	return CommandKey{Type: CommandPN, DLCI: c.DLCI, HasDLCI: true}
}

func (c *ParamNegotiation) Bytes() []byte {
	buf := commandHeader(CommandPN, c.CR, 8)
	return append(buf,
		uint8(c.DLCI)&0x3F,
		uint8(c.Handshake)<<4,
		c.Priority&0x3F,
		0, // T1 acknowledgement timer, not used in RFCOMM
		uint8(c.MaxFrameSize),
		uint8(c.MaxFrameSize>>8),
		0, // N2 retransmission count, not used in RFCOMM
		c.InitialCredits&0x07,
	)
}

func (c *ParamNegotiation) String() string {
	return fmt.Sprintf("{PN %v DLCI:%d handshake:%#x maxFrame:%d credits:%d}",
		c.CR, c.DLCI, uint8(c.Handshake), c.MaxFrameSize, c.InitialCredits)
}

func decodeParamNegotiation(cr CommandResponse, body []byte) (MuxCommand, error) {
	if len(body) != 8 {
		return nil, &ParseError{fmt.Sprintf("PN body length %d", len(body))}
	}
	return &ParamNegotiation{
		CR:             cr,
		DLCI:           DLCI(body[0] & 0x3F),
		Handshake:      CreditHandshake(body[1] >> 4),
		Priority:       body[2] & 0x3F,
		MaxFrameSize:   uint16(body[4]) | uint16(body[5])<<8,
		InitialCredits: body[7] & 0x07,
	}, nil
}
