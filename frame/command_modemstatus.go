package frame

import "fmt"

// V.24 signal bits of the modem status octet. The low bit of the octet
// is the EA bit and is managed by the codec.
const (
	SignalFC  = 0x02 // flow control, set when the sender cannot accept frames
	SignalRTC = 0x04 // ready to communicate
	SignalRTR = 0x08 // ready to receive
	SignalIC  = 0x40 // incoming call indicator
	SignalDV  = 0x80 // data valid
)

// DefaultSignals is the signal set reported after a DLC is established:
// ready to communicate, ready to receive, data valid.
const DefaultSignals = SignalRTC | SignalRTR | SignalDV

// ModemStatus conveys the V.24 signals for a DLC (RFCOMM 5.5.2, sent as
// a command after DLC establishment and echoed as a response).
type ModemStatus struct {
	CR      CommandResponse
	DLCI    DLCI
	Signals uint8
	// Break octet, present only when the sender signals a break condition.
	HasBreak bool
	Break    uint8
}

// MakeModemStatus builds the default modem status command reported after
// a DLC is established.
func MakeModemStatus(cr CommandResponse, dlci DLCI) *ModemStatus {
	return &ModemStatus{CR: cr, DLCI: dlci, Signals: DefaultSignals}
}

func (c *ModemStatus) Type() CommandType { return CommandMSC }

func (c *ModemStatus) Direction() CommandResponse { return c.CR }

func (c *ModemStatus) Key() CommandKey {
	return CommandKey{Type: CommandMSC, DLCI: c.DLCI, HasDLCI: true}
}

func (c *ModemStatus) Bytes() []byte {
	n := 2
	if c.HasBreak {
		n = 3
	}
	buf := commandHeader(CommandMSC, c.CR, n)
	// The address octet of an MSC body always has the C/R bit set.
	buf = append(buf, 0x03|uint8(c.DLCI)<<2)
	signals := c.Signals &^ 0x01
	if c.HasBreak {
		return append(buf, signals, c.Break<<1|0x01)
	}
	return append(buf, signals|0x01)
}

func (c *ModemStatus) String() string {
	return fmt.Sprintf("{MSC %v DLCI:%d signals:%#02x}", c.CR, c.DLCI, c.Signals)
}

func decodeModemStatus(cr CommandResponse, body []byte) (MuxCommand, error) {
	if len(body) != 2 && len(body) != 3 {
		return nil, &ParseError{fmt.Sprintf("MSC body length %d", len(body))}
	}
	c := &ModemStatus{
		CR:      cr,
		DLCI:    DLCI(body[0] >> 2),
		Signals: body[1] &^ 0x01,
	}
	if body[1]&0x01 == 0 {
		if len(body) != 3 {
			return nil, &ParseError{"MSC break octet missing"}
		}
		c.HasBreak = true
		c.Break = body[2] >> 1
	}
	return c, nil
}
