package rfcomm

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/net/websocket"
)

// readPump drains a stream transport into the session until the stream
// errors or closes.
func readPump(r io.Reader, s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Deliver(buf[:n])
		}
		if err != nil {
			s.LinkClosed()
			return
		}
	}
}

// DialIO establishes a session over an already connected stream
// transport.
func DialIO(m *Manager, rwc io.ReadWriteCloser) (*Session, error) {
	return m.RegisterStream(rwc)
}

// DialStdio establishes a session over Stdout and Stdin.
func DialStdio(m *Manager) (*Session, error) {
	return m.RegisterStream(&ioduplex{os.Stdout, os.Stdin})
}

type ioduplex struct {
	out io.WriteCloser
	in  io.ReadCloser
}

func (d *ioduplex) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d *ioduplex) Write(p []byte) (int, error) { return d.out.Write(p) }

func (d *ioduplex) Close() error {
	err := d.out.Close()
	if cerr := d.in.Close(); err == nil {
		err = cerr
	}
	return err
}

func dialNet(m *Manager, proto, addr string) (*Session, error) {
	conn, err := net.Dial(proto, addr)
	if err != nil {
		return nil, err
	}
	return m.RegisterStream(conn)
}

// DialTCP establishes a session over a TCP connection to addr.
func DialTCP(m *Manager, addr string) (*Session, error) {
	return dialNet(m, "tcp", addr)
}

// DialUnix establishes a session over a Unix domain socket at path.
func DialUnix(m *Manager, path string) (*Session, error) {
	return dialNet(m, "unix", path)
}

// DialWS establishes a session via WebSocket connection. The address
// must be a host and port; opening a WebSocket at a particular path is
// not supported.
func DialWS(m *Manager, addr string) (*Session, error) {
	ws, err := websocket.Dial(fmt.Sprintf("ws://%s/", addr), "", fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return m.RegisterStream(ws)
}
