// Package frame implements encoding and decoding of RFCOMM (GSM 07.10)
// frames and the multiplexer commands carried on the control channel.
package frame

import (
	"fmt"
	"io"
)

var (
	// Debug can be set to get frames as they're encoded and decoded
	Debug io.Writer
)

// Type is the frame type carried in the control octet, with the P/F bit
// masked out.
type Type uint8

const (
	TypeSABM Type = 0x2F // Set Asynchronous Balanced Mode
	TypeUA   Type = 0x63 // Unnumbered Acknowledgement
	TypeDM   Type = 0x0F // Disconnected Mode
	TypeDISC Type = 0x43 // Disconnect
	TypeUIH  Type = 0xEF // Unnumbered Information with Header check
)

// pfBit is the poll/final bit within the control octet.
const pfBit = 0x10

func (t Type) valid() bool {
	switch t {
	case TypeSABM, TypeUA, TypeDM, TypeDISC, TypeUIH:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case TypeSABM:
		return "SABM"
	case TypeUA:
		return "UA"
	case TypeDM:
		return "DM"
	case TypeDISC:
		return "DISC"
	case TypeUIH:
		return "UIH"
	}
	return fmt.Sprintf("Type(%#02x)", uint8(t))
}

// Frame is one decoded RFCOMM frame. Exactly one of Mux and Data is set
// for UIH frames: Mux for multiplexer commands on the control DLCI, Data
// for user payload on a user DLCI. All other frame types carry neither.
type Frame struct {
	// Role of the device sending the frame. Together with CR it
	// determines the C/R bit on the wire.
	Role Role
	DLCI DLCI
	Type Type
	CR   CommandResponse
	PF   bool

	Mux  MuxCommand
	Data []byte

	// Credits is the credit octet attached to a UIH frame with the P/F
	// bit set when credit-based flow control is active on the session.
	Credits uint8
}

func (f *Frame) String() string {
	switch {
	case f.Mux != nil:
		return fmt.Sprintf("{%v DLCI:%d %v}", f.Type, f.DLCI, f.Mux)
	case f.Type == TypeUIH:
		return fmt.Sprintf("{%v DLCI:%d len:%d credits:%d}", f.Type, f.DLCI, len(f.Data), f.Credits)
	}
	return fmt.Sprintf("{%v DLCI:%d %v P/F:%v}", f.Type, f.DLCI, f.CR, f.PF)
}

// MakeSABM builds an SABM command for the given DLCI. SABM commands are
// sent with the P bit set per GSM 07.10 5.3.1.
func MakeSABM(role Role, dlci DLCI) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeSABM, CR: Command, PF: true}
}

// MakeUA builds a UA response for the given DLCI.
func MakeUA(role Role, dlci DLCI) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeUA, CR: Response, PF: true}
}

// MakeDM builds a DM response for the given DLCI.
func MakeDM(role Role, dlci DLCI) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeDM, CR: Response, PF: true}
}

// MakeDISC builds a DISC command for the given DLCI.
func MakeDISC(role Role, dlci DLCI) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeDISC, CR: Command, PF: true}
}

// MakeMuxCommand builds a UIH frame carrying cmd on the control DLCI.
func MakeMuxCommand(role Role, cmd MuxCommand) *Frame {
	return &Frame{Role: role, DLCI: MuxControlDLCI, Type: TypeUIH, CR: Command, Mux: cmd}
}

// MakeUserData builds a UIH frame carrying user payload on a user DLCI.
func MakeUserData(role Role, dlci DLCI, data []byte) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeUIH, CR: Command, Data: data}
}

// MakeCreditGrant builds an empty UIH frame whose only purpose is to
// replenish the peer's send credits for the given DLCI.
func MakeCreditGrant(role Role, dlci DLCI, credits uint8) *Frame {
	return &Frame{Role: role, DLCI: dlci, Type: TypeUIH, CR: Command, PF: true, Credits: credits}
}

// crBit computes the C/R bit for a frame sent by a device with the given
// role. Commands from the initiator and responses from the responder
// carry C/R = 1. A device that has not yet resolved its role encodes
// as the initiator, which is the side an unresolved sender is bidding for.
func crBit(role Role, cr CommandResponse) uint8 {
	initiator := role != RoleResponder
	if (cr == Command) == initiator {
		return 1
	}
	return 0
}

// classifyCR maps a received C/R bit back to command/response given the
// sender's role. With the sender role unresolved during multiplexer
// startup, classification falls back on the frame type, which is
// unambiguous for every non-UIH type.
func classifyCR(sender Role, t Type, bit uint8) CommandResponse {
	switch sender {
	case RoleInitiator:
		if bit == 1 {
			return Command
		}
		return Response
	case RoleResponder:
		if bit == 1 {
			return Response
		}
		return Command
	}
	switch t {
	case TypeUA, TypeDM:
		return Response
	}
	return Command
}
