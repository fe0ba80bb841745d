package frame

import "fmt"

// RemotePortNegotiation carries RS-232 port settings for a DLC. The
// short single-octet form queries the current settings; the long form
// carries seven value octets. The session is a transport and does not
// interpret the values, so they are kept opaque and echoed in responses.
type RemotePortNegotiation struct {
	CR     CommandResponse
	DLCI   DLCI
	Values []byte // empty (query) or 7 octets
}

func (c *RemotePortNegotiation) Type() CommandType { return CommandRPN }

func (c *RemotePortNegotiation) Direction() CommandResponse { return c.CR }

func (c *RemotePortNegotiation) Key() CommandKey {
	return CommandKey{Type: CommandRPN, DLCI: c.DLCI, HasDLCI: true}
}

func (c *RemotePortNegotiation) Bytes() []byte {
	buf := commandHeader(CommandRPN, c.CR, 1+len(c.Values))
	buf = append(buf, 0x03|uint8(c.DLCI)<<2)
	return append(buf, c.Values...)
}

func (c *RemotePortNegotiation) String() string {
	return fmt.Sprintf("{RPN %v DLCI:%d values:%d}", c.CR, c.DLCI, len(c.Values))
}

// Response returns the response echoing this command's settings.
func (c *RemotePortNegotiation) Response() *RemotePortNegotiation {
	return &RemotePortNegotiation{
		CR:     Response,
		DLCI:   c.DLCI,
		Values: append([]byte(nil), c.Values...),
	}
}

func decodeRemotePortNegotiation(cr CommandResponse, body []byte) (MuxCommand, error) {
	if len(body) != 1 && len(body) != 8 {
		return nil, &ParseError{fmt.Sprintf("RPN body length %d", len(body))}
	}
	return &RemotePortNegotiation{
		CR:     cr,
		DLCI:   DLCI(body[0] >> 2),
		Values: append([]byte(nil), body[1:]...),
	}, nil
}
