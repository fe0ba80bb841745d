package frame

import "fmt"

// TestPattern checks the health of the control channel. The receiver
// echoes the pattern back in a response.
type TestPattern struct {
	CR   CommandResponse
	Data []byte
}

func (c *TestPattern) Type() CommandType { return CommandTest }

func (c *TestPattern) Direction() CommandResponse { return c.CR }

func (c *TestPattern) Key() CommandKey {
	return CommandKey{Type: CommandTest}
}

func (c *TestPattern) Bytes() []byte {
	return append(commandHeader(CommandTest, c.CR, len(c.Data)), c.Data...)
}

func (c *TestPattern) String() string {
	return fmt.Sprintf("{Test %v len:%d}", c.CR, len(c.Data))
}
