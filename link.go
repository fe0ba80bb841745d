package rfcomm

import "io"

// Link is the reliable, ordered packet transport beneath a Session; for
// classic Bluetooth this is an L2CAP connection-oriented channel. The
// Session writes outbound frames with Send and receives inbound bytes
// through Session.Deliver and closure through Session.LinkClosed, in the
// order the transport observed them.
type Link interface {
	Send(p []byte) error
	Close() error
}

// streamLink adapts any io.ReadWriteCloser into a Link. Reading is
// driven by a pump started in DialIO and the listeners.
type streamLink struct {
	rwc io.ReadWriteCloser
}

func (l *streamLink) Send(p []byte) error {
	_, err := l.rwc.Write(p)
	return err
}

func (l *streamLink) Close() error {
	return l.rwc.Close()
}
