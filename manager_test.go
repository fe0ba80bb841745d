package rfcomm

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/portmux/rfcomm-go/frame"
)

func TestManagerTracksSessions(t *testing.T) {
	m := NewManager(Config{}, nil)
	link := &recordLink{}
	s, err := m.RegisterLink(link)
	require.NoError(t, err)
	require.Same(t, s, m.Session(s.ID()))
	require.Len(t, m.Sessions(), 1)

	// Registration kicks off multiplexer startup.
	require.Equal(t, 1, link.sentCount())
	require.NoError(t, s.Close())
}

func TestManagerOpenRoutesBySessionID(t *testing.T) {
	m := NewManager(Config{}, nil)
	link := &recordLink{}
	s, err := m.RegisterLink(link)
	require.NoError(t, err)
	link.frames(t, frame.RoleUnassigned, false)
	deliver(t, s, frame.MakeUA(frame.RoleResponder, frame.MuxControlDLCI))

	require.Error(t, m.OpenRemoteChannel("nonexistent", 5, func(*Channel, ServerChannel) {}))

	require.NoError(t, m.OpenRemoteChannel(s.ID(), 5, func(*Channel, ServerChannel) {}))
	fs := link.frames(t, frame.RoleInitiator, false)
	require.Len(t, fs, 1)
	_, ok := fs[0].Mux.(*frame.ParamNegotiation)
	require.True(t, ok, "expected PN command, got %v", fs[0])
	require.NoError(t, s.Close())
}

func TestManagerDropsClosedSessions(t *testing.T) {
	m := NewManager(Config{}, nil)
	link := &recordLink{}
	s, err := m.RegisterLink(link)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	waitFor(t, "session removal", func() bool { return m.Session(s.ID()) == nil })
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(Config{}, nil)
	l1, l2 := &recordLink{}, &recordLink{}
	_, err := m.RegisterLink(l1)
	require.NoError(t, err)
	_, err = m.RegisterLink(l2)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	require.Equal(t, 1, l1.closeCount())
	require.Equal(t, 1, l2.closeCount())
	require.Empty(t, m.Sessions())

	_, err = m.RegisterLink(&recordLink{})
	require.Equal(t, ErrManagerClosed, errors.Cause(err))
}
