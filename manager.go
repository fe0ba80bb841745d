package rfcomm

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrManagerClosed is returned when registering links on a manager that
// was shut down.
var ErrManagerClosed = errors.New("rfcomm: manager closed")

// Manager tracks the live Sessions of a host, one per underlying link,
// and routes channel opens to them by session ID. All sessions share
// the manager's Config and accept handler.
type Manager struct {
	cfg    Config
	accept AcceptFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a manager whose sessions use cfg and deliver
// peer-opened channels to accept.
func NewManager(cfg Config, accept AcceptFunc) *Manager {
	return &Manager{
		cfg:      cfg,
		accept:   accept,
		sessions: make(map[string]*Session),
	}
}

// RegisterLink starts a Session over a connected link and tracks it.
// Multiplexer startup begins immediately.
func (m *Manager) RegisterLink(link Link) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	s := NewSession(link, m.cfg, m.accept)
	s.closeHook = m.remove
	m.sessions[s.id] = s
	return s, nil
}

// RegisterStream wraps a stream transport as a link, registers it and
// starts the read pump feeding the session.
func (m *Manager) RegisterStream(rwc io.ReadWriteCloser) (*Session, error) {
	s, err := m.RegisterLink(&streamLink{rwc})
	if err != nil {
		rwc.Close()
		return nil, err
	}
	go readPump(rwc, s)
	return s, nil
}

// Session returns the tracked session with the given ID, or nil.
func (m *Manager) Session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Sessions returns a snapshot of the tracked sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// OpenRemoteChannel opens a channel to the given server channel on the
// peer of the identified session.
func (m *Manager) OpenRemoteChannel(id string, sc ServerChannel, fn OpenFunc) error {
	s := m.Session(id)
	if s == nil {
		return errors.Errorf("rfcomm: no session %s", id)
	}
	return s.OpenRemoteChannel(sc, fn)
}

// CloseAll closes every tracked session and refuses new registrations.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}
