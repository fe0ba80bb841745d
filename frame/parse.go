package frame

import (
	"errors"
	"fmt"
)

// ErrTruncated reports that the buffer does not yet hold a complete frame.
// Callers accumulating a byte stream should wait for more data.
var ErrTruncated = errors.New("frame: truncated frame")

// ParseError reports a malformed frame that occupied a known number of
// bytes and can be skipped.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return "frame: " + e.msg }

// UnsupportedCommandError reports a structurally valid multiplexer command
// of an unknown type. The session answers these with a Non-Supported
// Command response carrying the offending type octet.
type UnsupportedCommandError struct {
	TypeOctet uint8
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("frame: unsupported mux command type %#02x", e.TypeOctet)
}

// Parse decodes one frame from the head of b. The sender role of the
// remote peer determines C/R classification; creditFlow selects whether
// UIH frames with the P/F bit set carry a credit octet.
//
// It returns the decoded frame and the number of bytes consumed. On a
// malformed but length-delimited frame the consumed count is still
// returned so the caller can skip it; ErrTruncated means b must grow
// before parsing can proceed.
func Parse(sender Role, creditFlow bool, b []byte) (*Frame, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrTruncated
	}

	addr := b[0]
	if addr&0x01 == 0 {
		// Extended addresses are not defined for RFCOMM. The length
		// field can't be trusted either, so this is unskippable.
		return nil, 0, &ParseError{"address octet without EA bit"}
	}
	dlci := DLCI(addr >> 2)
	bit := addr >> 1 & 0x01

	control := b[1]
	pf := control&pfBit != 0
	typ := Type(control &^ pfBit)

	idx := 2
	var length int
	if b[2]&0x01 != 0 {
		length = int(b[2] >> 1)
		idx = 3
	} else {
		if len(b) < 4+1 {
			return nil, 0, ErrTruncated
		}
		length = int(b[2]>>1) | int(b[3])<<7
		idx = 4
	}
	headerLen := idx

	withCredits := typ == TypeUIH && pf && creditFlow
	if withCredits {
		idx++
	}
	total := idx + length + 1
	if len(b) < total {
		return nil, 0, ErrTruncated
	}

	if !typ.valid() {
		return nil, total, &ParseError{fmt.Sprintf("unrecognized control field %#02x", control)}
	}

	covered := headerLen
	if typ == TypeUIH {
		covered = 2
	}
	if !fcsValid(b[:covered], b[total-1]) {
		return nil, total, &ParseError{"FCS mismatch"}
	}

	f := &Frame{
		Role: sender,
		DLCI: dlci,
		Type: typ,
		CR:   classifyCR(sender, typ, bit),
		PF:   pf,
	}
	if withCredits {
		f.Credits = b[headerLen]
	}

	info := b[idx : idx+length]
	switch {
	case typ != TypeUIH:
		if length != 0 {
			return nil, total, &ParseError{fmt.Sprintf("%v frame with nonempty information field", typ)}
		}
	case dlci.IsMuxControl():
		cmd, err := DecodeCommand(info)
		if err != nil {
			return nil, total, err
		}
		f.Mux = cmd
	default:
		f.Data = append([]byte(nil), info...)
	}

	if Debug != nil {
		fmt.Fprintln(Debug, ">>DEC", f)
	}
	return f, total, nil
}
