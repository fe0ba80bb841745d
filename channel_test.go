package rfcomm

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portmux/rfcomm-go/frame"
)

func TestWriteChunksToMaxFrameSize(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 7)

	payload := bytes.Repeat([]byte{0x42}, 300)
	n, err := ch.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 3)
	require.Len(t, fs[0].Data, 127)
	require.Len(t, fs[1].Data, 127)
	require.Len(t, fs[2].Data, 46)
}

func TestWriteBlocksOnExhaustedCredits(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 2)

	// Three frames' worth of payload against two credits: the third
	// frame queues until the peer replenishes.
	payload := bytes.Repeat([]byte{0x42}, 300)
	n, err := ch.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 2)

	deliver(t, s, frame.MakeCreditGrant(frame.RoleResponder, 10, 1))
	fs = link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 1)
	require.Len(t, fs[0].Data, 46)
}

func TestCreditsCountFramesNotBytes(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 2)

	// Two tiny writes spend both credits regardless of size.
	for _, p := range []string{"a", "b", "c"} {
		_, err := ch.Write([]byte(p))
		require.NoError(t, err)
	}
	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 2)
	require.Equal(t, "a", string(fs[0].Data))
	require.Equal(t, "b", string(fs[1].Data))

	deliver(t, s, frame.MakeCreditGrant(frame.RoleResponder, 10, 2))
	fs = link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 1)
	require.Equal(t, "c", string(fs[0].Data))
}

func TestReceiverGrantsCreditsBack(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 7)

	// With the default offer of 7 credits, half consumed triggers a
	// replenishment grant.
	for i := 0; i < 3; i++ {
		deliver(t, s, frame.MakeUserData(frame.RoleResponder, 10, []byte{byte(i)}))
	}
	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 1)
	require.Equal(t, frame.TypeUIH, fs[0].Type)
	require.Empty(t, fs[0].Data)
	require.Equal(t, uint8(3), fs[0].Credits)

	buf := make([]byte, 8)
	n, err := ch.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, buf[:n])
}

func TestAggregateFlowControl(t *testing.T) {
	// Without the credit handshake, FCoff halts every channel and FCon
	// releases the queued writes.
	s, link := newStartedSession(t, Config{DisableCreditFlow: true}, nil)
	defer s.Close()

	opened := make(chan *Channel, 1)
	require.NoError(t, s.OpenRemoteChannel(5, func(ch *Channel, _ ServerChannel) {
		opened <- ch
	}))
	fs := link.frames(t, frame.RoleInitiator, false)
	require.Len(t, fs, 1)
	pn := fs[0].Mux.(*frame.ParamNegotiation)
	require.Equal(t, frame.HandshakeUnsupported, pn.Handshake)

	deliver(t, s, frame.MakeMuxCommand(frame.RoleResponder, &frame.ParamNegotiation{
		CR:           frame.Response,
		DLCI:         pn.DLCI,
		Handshake:    frame.HandshakeUnsupported,
		MaxFrameSize: pn.MaxFrameSize,
	}))
	link.frames(t, frame.RoleInitiator, false) // SABM
	deliver(t, s, frame.MakeUA(frame.RoleResponder, pn.DLCI))
	var ch *Channel
	select {
	case ch = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("open callback never fired")
	}
	link.frames(t, frame.RoleInitiator, false) // MSC

	_, creditFlow := s.Parameters()
	require.False(t, creditFlow)

	deliver(t, s, frame.MakeMuxCommand(frame.RoleResponder, &frame.FlowControlOff{CR: frame.Command}))
	fs = link.frames(t, frame.RoleInitiator, false)
	require.Len(t, fs, 1)
	require.Equal(t, frame.Response, fs[0].Mux.(*frame.FlowControlOff).CR)

	_, err := ch.Write([]byte("held"))
	require.NoError(t, err)
	require.Equal(t, 0, link.sentCount())

	deliver(t, s, frame.MakeMuxCommand(frame.RoleResponder, &frame.FlowControlOn{CR: frame.Command}))
	fs = link.frames(t, frame.RoleInitiator, false)
	require.Len(t, fs, 2)
	require.Equal(t, frame.Response, fs[0].Mux.(*frame.FlowControlOn).CR)
	require.Equal(t, "held", string(fs[1].Data))
}

func TestChannelCloseHandshake(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 7)

	require.NoError(t, ch.Close())
	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 1)
	require.Equal(t, frame.TypeDISC, fs[0].Type)
	require.Equal(t, DLCI(10), fs[0].DLCI)

	_, err := ch.Write([]byte("late"))
	require.Equal(t, ErrChannelClosed, err)
	require.Equal(t, ErrChannelClosed, ch.Close())

	deliver(t, s, frame.MakeUA(frame.RoleResponder, 10))
	_, err = ch.Read(make([]byte, 4))
	require.Equal(t, io.EOF, err)
}

func TestPeerClosesChannel(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	defer s.Close()
	ch := openNegotiatedChannel(t, s, link, 5, 7)

	deliver(t, s, frame.MakeUserData(frame.RoleResponder, 10, []byte("bye")))
	deliver(t, s, frame.MakeDISC(frame.RoleResponder, 10))
	fs := link.frames(t, frame.RoleInitiator, true)
	require.Len(t, fs, 1)
	require.Equal(t, frame.TypeUA, fs[0].Type)
	require.Equal(t, DLCI(10), fs[0].DLCI)

	// Buffered payload drains before EOF.
	buf := make([]byte, 8)
	n, err := ch.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "bye", string(buf[:n]))
	_, err = ch.Read(buf)
	require.Equal(t, io.EOF, err)

	_, err = ch.Write([]byte("late"))
	require.Equal(t, ErrChannelClosed, err)
}

func TestSessionTeardownClosesChannels(t *testing.T) {
	s, link := newStartedSession(t, Config{}, nil)
	ch := openNegotiatedChannel(t, s, link, 5, 7)

	deliver(t, s, frame.MakeDISC(frame.RoleResponder, frame.MuxControlDLCI))
	_, err := ch.Read(make([]byte, 4))
	require.Equal(t, io.EOF, err)
	_, err = ch.Write([]byte("late"))
	require.Equal(t, ErrChannelClosed, err)
}
