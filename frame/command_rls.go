package frame

import "fmt"

// RemoteLineStatus reports line errors (overrun, parity, framing) for a
// DLC. Received commands are echoed as responses.
type RemoteLineStatus struct {
	CR     CommandResponse
	DLCI   DLCI
	Status uint8
}

func (c *RemoteLineStatus) Type() CommandType { return CommandRLS }

func (c *RemoteLineStatus) Direction() CommandResponse { return c.CR }

func (c *RemoteLineStatus) Key() CommandKey {
	return CommandKey{Type: CommandRLS, DLCI: c.DLCI, HasDLCI: true}
}

func (c *RemoteLineStatus) Bytes() []byte {
	buf := commandHeader(CommandRLS, c.CR, 2)
	return append(buf, 0x03|uint8(c.DLCI)<<2, c.Status)
}

func (c *RemoteLineStatus) String() string {
	return fmt.Sprintf("{RLS %v DLCI:%d status:%#02x}", c.CR, c.DLCI, c.Status)
}

func decodeRemoteLineStatus(cr CommandResponse, body []byte) (MuxCommand, error) {
	if len(body) != 2 {
		return nil, &ParseError{fmt.Sprintf("RLS body length %d", len(body))}
	}
	return &RemoteLineStatus{CR: cr, DLCI: DLCI(body[0] >> 2), Status: body[1]}, nil
}
