package frame

import "fmt"

// FlowControlOn resumes transmission on every DLC of the session. The
// aggregate flow control commands are only used when credit-based flow
// control was not negotiated (RFCOMM 5.5.1).
type FlowControlOn struct {
	CR CommandResponse
}

func (c *FlowControlOn) Type() CommandType { return CommandFCon }

func (c *FlowControlOn) Direction() CommandResponse { return c.CR }

func (c *FlowControlOn) Key() CommandKey { return CommandKey{Type: CommandFCon} }

func (c *FlowControlOn) Bytes() []byte { return commandHeader(CommandFCon, c.CR, 0) }

func (c *FlowControlOn) String() string { return fmt.Sprintf("{FCon %v}", c.CR) }

// FlowControlOff halts transmission on every DLC of the session.
type FlowControlOff struct {
	CR CommandResponse
}

func (c *FlowControlOff) Type() CommandType { return CommandFCoff }

func (c *FlowControlOff) Direction() CommandResponse { return c.CR }

func (c *FlowControlOff) Key() CommandKey { return CommandKey{Type: CommandFCoff} }

func (c *FlowControlOff) Bytes() []byte { return commandHeader(CommandFCoff, c.CR, 0) }

func (c *FlowControlOff) String() string { return fmt.Sprintf("{FCoff %v}", c.CR) }
