package frame

import "fmt"

// CommandType is the six-bit multiplexer command type from GSM 07.10
// Table 5.
type CommandType uint8

const (
	CommandNSC   CommandType = 0x04 // Non-Supported Command
	CommandTest  CommandType = 0x08 // Test
	CommandRLS   CommandType = 0x14 // Remote Line Status
	CommandFCoff CommandType = 0x18 // Flow Control Off
	CommandPN    CommandType = 0x20 // DLC Parameter Negotiation
	CommandRPN   CommandType = 0x24 // Remote Port Negotiation
	CommandFCon  CommandType = 0x28 // Flow Control On
	CommandMSC   CommandType = 0x38 // Modem Status
)

func (t CommandType) String() string {
	switch t {
	case CommandNSC:
		return "NSC"
	case CommandTest:
		return "Test"
	case CommandRLS:
		return "RLS"
	case CommandFCoff:
		return "FCoff"
	case CommandPN:
		return "PN"
	case CommandRPN:
		return "RPN"
	case CommandFCon:
		return "FCon"
	case CommandMSC:
		return "MSC"
	}
	return fmt.Sprintf("CommandType(%#02x)", uint8(t))
}

// CommandKey identifies an in-flight multiplexer command for matching a
// response to its request. Commands that address a DLC are keyed by type
// and DLCI; the rest by type alone.
type CommandKey struct {
	Type    CommandType
	DLCI    DLCI
	HasDLCI bool
}

// Command is a typed multiplexer command carried in a UIH frame on the
// control DLCI.
type MuxCommand interface {
	Type() CommandType
	// Direction reports whether this is a command or a response. Unlike
	// the frame-level C/R bit, a multiplexer command is always encoded
	// with C/R = 1 and a response with C/R = 0, regardless of role.
	Direction() CommandResponse
	Key() CommandKey
	Bytes() []byte
	String() string
}

func commandHeader(t CommandType, cr CommandResponse, bodyLen int) []byte {
	octet := uint8(t)<<2 | 0x01
	if cr == Command {
		octet |= 0x02
	}
	return []byte{octet, uint8(bodyLen)<<1 | 0x01}
}

// DecodeCommand decodes a multiplexer command from the information field
// of a control channel UIH frame.
func DecodeCommand(b []byte) (MuxCommand, error) {
	if len(b) < 2 {
		return nil, &ParseError{"short mux command"}
	}
	typeOctet := b[0]
	if typeOctet&0x01 == 0 {
		return nil, &ParseError{"mux command type octet without EA bit"}
	}
	cr := Response
	if typeOctet&0x02 != 0 {
		cr = Command
	}
	typ := CommandType(typeOctet >> 2)

	if b[1]&0x01 == 0 {
		// None of the defined commands needs the extended length form.
		return nil, &ParseError{"mux command with extended length"}
	}
	length := int(b[1] >> 1)
	if len(b) < 2+length {
		return nil, &ParseError{"mux command body truncated"}
	}
	body := b[2 : 2+length]

	switch typ {
	case CommandPN:
		return decodeParamNegotiation(cr, body)
	case CommandMSC:
		return decodeModemStatus(cr, body)
	case CommandRPN:
		return decodeRemotePortNegotiation(cr, body)
	case CommandRLS:
		return decodeRemoteLineStatus(cr, body)
	case CommandTest:
		return &TestPattern{CR: cr, Data: append([]byte(nil), body...)}, nil
	case CommandFCon:
		return &FlowControlOn{CR: cr}, nil
	case CommandFCoff:
		return &FlowControlOff{CR: cr}, nil
	case CommandNSC:
		return decodeNonSupported(cr, body)
	}
	return nil, &UnsupportedCommandError{TypeOctet: typeOctet}
}
