package rfcomm

import (
	"io"
	"net"
	"net/http"

	"golang.org/x/net/websocket"
)

// Listener accepts sessions established by remote dialers.
type Listener interface {
	// Close closes the listener.
	// Any blocked Accept operations will be unblocked and return errors.
	Close() error

	// Accept waits for and returns the next incoming session.
	Accept() (*Session, error)
}

// NetListener wraps a net.Listener to return connected sessions.
type NetListener struct {
	net.Listener
	mgr      *Manager
	accepted chan *Session
	closer   chan bool
	errs     chan error
}

// Accept waits for and returns the next connected session to the listener.
func (l *NetListener) Accept() (*Session, error) {
	select {
	case <-l.closer:
		return nil, io.EOF
	case err := <-l.errs:
		return nil, err
	case sess := <-l.accepted:
		return sess, nil
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *NetListener) Close() error {
	if l.closer != nil {
		l.closer <- true
	}
	return l.Listener.Close()
}

func listenNet(m *Manager, proto, addr string) (*NetListener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	nl := &NetListener{
		Listener: l,
		mgr:      m,
		accepted: make(chan *Session),
		closer:   make(chan bool, 1),
		errs:     make(chan error, 1),
	}
	go func(l net.Listener) {
		for {
			conn, err := l.Accept()
			if err != nil {
				nl.errs <- err
				return
			}
			sess, err := m.RegisterStream(conn)
			if err != nil {
				nl.errs <- err
				return
			}
			nl.accepted <- sess
		}
	}(l)
	return nl, nil
}

// ListenTCP creates a TCP listener at the given address.
func ListenTCP(m *Manager, addr string) (*NetListener, error) {
	return listenNet(m, "tcp", addr)
}

// ListenUnix creates a Unix domain socket listener at the given path.
func ListenUnix(m *Manager, path string) (*NetListener, error) {
	return listenNet(m, "unix", path)
}

// HandleWS takes a WebSocket connection, wraps it as a session, and
// sends it to a NetListener to be accepted. It blocks until the session
// ends so the handler keeps the socket open.
func HandleWS(l *NetListener, ws *websocket.Conn) {
	ws.PayloadType = websocket.BinaryFrame
	sess, err := l.mgr.RegisterStream(ws)
	if err != nil {
		l.errs <- err
		return
	}
	l.accepted <- sess
	l.errs <- sess.Wait()
}

// ListenWS takes a TCP address and returns a NetListener with an
// HTTP+WebSocket server listening on the given address.
func ListenWS(m *Manager, addr string) (*NetListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	nl := &NetListener{
		Listener: l,
		mgr:      m,
		accepted: make(chan *Session),
		closer:   make(chan bool, 1),
		errs:     make(chan error, 2),
	}
	s := &http.Server{
		Addr: addr,
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			HandleWS(nl, ws)
		}),
	}
	go func() {
		nl.errs <- s.Serve(l)
	}()
	return nl, nil
}
