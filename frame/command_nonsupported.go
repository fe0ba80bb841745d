package frame

import "fmt"

// NonSupported is the response sent when a received multiplexer command
// type is not supported. The body carries the offending type octet.
type NonSupported struct {
	CR       CommandResponse
	BadOctet uint8
}

func (c *NonSupported) Type() CommandType { return CommandNSC }

func (c *NonSupported) Direction() CommandResponse { return c.CR }

func (c *NonSupported) Key() CommandKey { return CommandKey{Type: CommandNSC} }

func (c *NonSupported) Bytes() []byte {
	return append(commandHeader(CommandNSC, c.CR, 1), c.BadOctet)
}

func (c *NonSupported) String() string {
	return fmt.Sprintf("{NSC %v bad:%#02x}", c.CR, c.BadOctet)
}

func decodeNonSupported(cr CommandResponse, body []byte) (MuxCommand, error) {
	if len(body) != 1 {
		return nil, &ParseError{fmt.Sprintf("NSC body length %d", len(body))}
	}
	return &NonSupported{CR: cr, BadOctet: body[0]}, nil
}
