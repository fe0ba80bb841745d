package rfcomm

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestTCPEndToEnd(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	accepted := make(chan *Channel, 1)
	acceptFn := func(_ ServerChannel, ch *Channel) {
		accepted <- ch
	}

	// Both ends start the multiplexer on registration, so the sessions
	// go through the startup conflict procedure over a real connection.
	// The shorter response window on the dialer makes it give way.
	serverMgr := NewManager(Config{
		StartupTimeout: 200 * time.Millisecond,
		RetryInterval:  200 * time.Millisecond,
	}, acceptFn)
	l, err := ListenTCP(serverMgr, "127.0.0.1:0")
	require.NoError(t, err)

	clientMgr := NewManager(Config{
		StartupTimeout: 20 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
	}, acceptFn)
	dialed, err := DialTCP(clientMgr, l.Addr().String())
	require.NoError(t, err)
	served, err := l.Accept()
	require.NoError(t, err)

	waitFor(t, "startup convergence", func() bool {
		return dialed.Started() && served.Started()
	})
	require.Equal(t, dialed.Role(), served.Role().Opposite())

	initiator := dialed
	if served.Role() == RoleInitiator {
		initiator = served
	}
	opened := make(chan *Channel, 1)
	require.NoError(t, initiator.OpenRemoteChannel(4, func(ch *Channel, _ ServerChannel) {
		opened <- ch
	}))
	var out, in *Channel
	select {
	case out = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("open callback never fired")
	}
	require.NotNil(t, out)
	select {
	case in = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept handler never fired")
	}

	_, err = out.Write([]byte("over tcp"))
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "over tcp", string(buf[:n]))

	_, err = in.Write([]byte("and back"))
	require.NoError(t, err)
	n, err = out.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "and back", string(buf[:n]))

	require.NoError(t, l.Close())
	require.NoError(t, clientMgr.CloseAll())
	require.NoError(t, serverMgr.CloseAll())
}
