package rfcomm

import (
	"io"
	"sync"

	"github.com/portmux/rfcomm-go/frame"
)

type channelState uint8

const (
	channelNegotiating channelState = iota
	channelOpen
	channelClosing
	channelClosed
)

// Channel is one DLC multiplexed over a Session. Reads and writes carry
// user payload in UIH frames; writes respect the DLC's flow control and
// queue when the send budget is exhausted.
//
// A Channel is created by the Session and handed out through the open
// callback or the accept handler. All channel state is mutated under the
// owning Session's lock; only the inbound buffer is read concurrently.
type Channel struct {
	session *Session
	dlci    frame.DLCI
	sc      frame.ServerChannel

	// Guarded by session.mu.
	state         channelState
	openFn        OpenFunc
	maxFrameSize  uint16
	creditFlow    bool
	sendCredits   int
	ungranted     int
	txq           [][]byte
	remoteSignals uint8

	rx buffer
}

func newChannel(s *Session, dlci frame.DLCI) *Channel {
	sc, _ := dlci.ServerChannel()
	ch := &Channel{
		session: s,
		dlci:    dlci,
		sc:      sc,
	}
	ch.rx.cond.L = &ch.rx.mu
	return ch
}

// DLCI returns the channel's DLCI.
func (ch *Channel) DLCI() DLCI { return ch.dlci }

// ServerChannel returns the server channel the DLCI addresses.
func (ch *Channel) ServerChannel() ServerChannel { return ch.sc }

// MaxFrameSize returns the negotiated maximum payload per frame.
func (ch *Channel) MaxFrameSize() uint16 {
	ch.session.mu.Lock()
	defer ch.session.mu.Unlock()
	return ch.maxFrameSize
}

// RemoteSignals returns the V.24 signals last reported by the peer in a
// Modem Status command.
func (ch *Channel) RemoteSignals() uint8 {
	ch.session.mu.Lock()
	defer ch.session.mu.Unlock()
	return ch.remoteSignals
}

// Read reads user payload delivered on the channel. It blocks until data
// arrives and returns io.EOF once the channel closed and the buffer
// drained.
func (ch *Channel) Read(p []byte) (int, error) {
	return ch.rx.Read(p)
}

// Write sends user payload on the channel, split into frames of at most
// the negotiated maximum size. When the credit budget (or an aggregate
// flow control halt) blocks transmission, the remainder is queued and
// flushed as soon as the peer replenishes the budget; queued bytes count
// as written.
func (ch *Channel) Write(p []byte) (int, error) {
	s := ch.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.state != channelOpen {
		return 0, ErrChannelClosed
	}
	max := int(ch.maxFrameSize)
	for off := 0; off < len(p); off += max {
		end := off + max
		if end > len(p) {
			end = len(p)
		}
		chunk := append([]byte(nil), p[off:end]...)
		if ch.blockedLocked() {
			ch.txq = append(ch.txq, chunk)
			continue
		}
		ch.sendDataLocked(chunk)
	}
	return len(p), nil
}

// Close initiates an orderly shutdown of the DLC by sending a DISC
// command. The channel is removed once the peer acknowledges with UA.
func (ch *Channel) Close() error {
	s := ch.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.state != channelOpen {
		return ErrChannelClosed
	}
	ch.state = channelClosing
	s.sendFrame(frame.MakeDISC(s.role, ch.dlci))
	return nil
}

// blockedLocked reports whether transmission is currently halted by flow
// control.
func (ch *Channel) blockedLocked() bool {
	if ch.creditFlow {
		return ch.sendCredits == 0
	}
	return ch.session.flowStopped
}

func (ch *Channel) sendDataLocked(chunk []byte) {
	if ch.creditFlow {
		ch.sendCredits--
	}
	ch.session.sendFrame(frame.MakeUserData(ch.session.role, ch.dlci, chunk))
}

// flushLocked drains queued writes while the flow budget allows.
func (ch *Channel) flushLocked() {
	for len(ch.txq) > 0 && !ch.blockedLocked() {
		chunk := ch.txq[0]
		ch.txq = ch.txq[1:]
		ch.sendDataLocked(chunk)
	}
}

// addCreditsLocked applies a credit replenishment from the peer.
func (ch *Channel) addCreditsLocked(n uint8) {
	if !ch.creditFlow || n == 0 {
		return
	}
	ch.sendCredits += int(n)
	ch.flushLocked()
}

// deliverLocked queues inbound payload for the reader and grants credits
// back once enough frames have been consumed.
func (ch *Channel) deliverLocked(data []byte) {
	ch.rx.write(data)
	if !ch.creditFlow {
		return
	}
	ch.ungranted++
	threshold := int(ch.session.cfg.InitialCredits) / 2
	if threshold < 1 {
		threshold = 1
	}
	if ch.ungranted >= threshold {
		grant := ch.ungranted
		ch.ungranted = 0
		ch.session.sendFrame(frame.MakeCreditGrant(ch.session.role, ch.dlci, uint8(grant)))
	}
}

// closedLocked finalizes the channel: readers see EOF after draining and
// queued writes are dropped.
func (ch *Channel) closedLocked() {
	ch.state = channelClosed
	ch.txq = nil
	ch.rx.eof()
}

// buffer is an eof-capable inbound byte queue. The Session appends under
// its own lock; the channel's consumer reads concurrently.
type buffer struct {
	mu     sync.Mutex
	cond   sync.Cond
	data   []byte
	closed bool
}

func (b *buffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
}

func (b *buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *buffer) eof() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
