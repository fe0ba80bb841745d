package rfcomm

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/portmux/rfcomm-go/frame"
)

// OpenFunc receives the outcome of an OpenRemoteChannel request. The
// channel is nil when the open failed (startup never completed, the
// peer rejected negotiation, or it answered the SABM with DM).
type OpenFunc func(ch *Channel, sc ServerChannel)

// AcceptFunc receives channels opened by the remote peer.
type AcceptFunc func(sc ServerChannel, ch *Channel)

type muxState uint8

const (
	muxIdle     muxState = iota // link registered, multiplexer not started
	muxStarting                 // startup SABM outstanding
	muxStarted
	muxClosed
)

type paramState uint8

const (
	paramsNotNegotiated paramState = iota
	paramsNegotiating
	paramsNegotiated
)

// defaultPriority is the priority proposed for DLCs in parameter
// negotiation.
const defaultPriority = 7

type pendingOpen struct {
	sc ServerChannel
	fn OpenFunc
}

// Session multiplexes RFCOMM channels over one underlying link. It owns
// multiplexer startup (including the simultaneous-SABM conflict
// procedure), parameter negotiation, the DLCI to channel map, and the
// ordering of outbound frames.
//
// Inbound bytes enter through Deliver and are re-framed internally, so
// the link may deliver any fragmentation. All state is guarded by one
// mutex; outbound frames are transmitted in the order their triggering
// events were processed.
type Session struct {
	id     string
	cfg    Config
	accept AcceptFunc

	mu    sync.Mutex
	link  Link
	state muxState
	role  frame.Role

	// conflict records that the peer's startup SABM collided with ours;
	// the startup timer then retries instead of tearing down.
	conflict bool
	attempts int
	timer    *time.Timer

	params       paramState
	creditFlow   bool
	maxFrameSize uint16
	flowStopped  bool

	channels map[frame.DLCI]*Channel
	// Outstanding command frames awaiting a response, at most one per
	// DLCI (GSM 07.10 5.4.4.1), and outstanding multiplexer commands,
	// at most one per type and DLCI (RFCOMM 5.5).
	outCmds map[frame.DLCI]frame.Type
	outMux  map[frame.CommandKey]frame.MuxCommand

	// Open requests queued behind multiplexer startup or parameter
	// negotiation.
	pending []pendingOpen

	rxbuf     []byte
	closed    bool
	closeErr  error
	linkGone  bool
	done      chan struct{}
	closeHook func(*Session)
}

// NewSession registers an underlying link and immediately begins
// multiplexer startup by sending an SABM on the control DLCI. The accept
// handler receives channels the peer opens; it may be nil, in which case
// peer opens are refused with DM.
func NewSession(link Link, cfg Config, accept AcceptFunc) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:           xid.New().String(),
		cfg:          cfg,
		accept:       accept,
		link:         link,
		maxFrameSize: cfg.MaxFrameSize,
		channels:     make(map[frame.DLCI]*Channel),
		outCmds:      make(map[frame.DLCI]frame.Type),
		outMux:       make(map[frame.CommandKey]frame.MuxCommand),
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	s.startMuxLocked()
	s.mu.Unlock()
	return s
}

// ID returns the session's unique identifier, used to correlate log
// lines and Manager lookups.
func (s *Session) ID() string { return s.id }

// Role returns the role resolved during multiplexer startup.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Started reports whether multiplexer startup has completed.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == muxStarted
}

// Parameters returns the negotiated session-wide parameters.
func (s *Session) Parameters() (maxFrameSize uint16, creditFlow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFrameSize, s.creditFlow
}

// OpenRemoteChannel requests a new DLC to the given server channel on
// the peer. The outcome is reported through fn; a request made before
// startup or parameter negotiation completes is queued behind the
// missing procedure.
func (s *Session) OpenRemoteChannel(sc ServerChannel, fn OpenFunc) error {
	if !sc.Valid() {
		return errors.Errorf("rfcomm: invalid server channel %d", sc)
	}
	if fn == nil {
		return errors.New("rfcomm: nil open callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != muxStarted {
		s.pending = append(s.pending, pendingOpen{sc, fn})
		if s.state == muxIdle {
			s.startMuxLocked()
		}
		return nil
	}
	s.openLocked(sc, fn)
	return nil
}

// Close shuts the session down, sending a DISC on the control DLCI when
// the multiplexer is up. All channels are closed and the underlying
// link is released.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.state == muxStarted {
		s.sendFrame(frame.MakeDISC(s.role, frame.MuxControlDLCI))
	}
	s.teardownLocked(nil)
	return nil
}

// Wait blocks until the session is torn down and returns the reason, or
// nil after an orderly shutdown.
func (s *Session) Wait() error {
	<-s.done
	return s.closeErr
}

// Deliver feeds inbound bytes from the underlying link into the session.
// Buffers may arrive fragmented at any boundary; the session accumulates
// and re-frames. Frames are processed strictly in arrival order.
func (s *Session) Deliver(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.rxbuf = append(s.rxbuf, p...)
	for len(s.rxbuf) > 0 && !s.closed {
		f, n, err := frame.Parse(s.role.Opposite(), s.creditFlow, s.rxbuf)
		if err != nil {
			if errors.Is(err, frame.ErrTruncated) {
				return
			}
			var unsupported *frame.UnsupportedCommandError
			if errors.As(err, &unsupported) {
				s.sendFrame(frame.MakeMuxCommand(s.role, &frame.NonSupported{
					CR:       frame.Response,
					BadOctet: unsupported.TypeOctet,
				}))
			} else {
				log.Printf("rfcomm %s: dropping malformed frame: %v", s.id, err)
			}
			if n == 0 {
				// Can't resynchronize without a trustworthy length.
				s.rxbuf = nil
				return
			}
			s.rxbuf = s.rxbuf[n:]
			continue
		}
		s.rxbuf = s.rxbuf[n:]
		if s.cfg.NetLog {
			log.Printf("rfcomm %s: recv %v", s.id, f)
		}
		s.handleFrameLocked(f)
	}
}

// LinkClosed tells the session the underlying link was torn down by the
// transport. All channels are closed; the link is not closed again.
func (s *Session) LinkClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkGone = true
	s.teardownLocked(errors.New("link closed"))
}

// --- multiplexer startup ---

func (s *Session) startMuxLocked() {
	s.state = muxStarting
	s.attempts = 1
	s.sendFrame(frame.MakeSABM(s.role, frame.MuxControlDLCI))
	s.armTimerLocked(s.cfg.StartupTimeout)
}

func (s *Session) armTimerLocked(d time.Duration) {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(d, s.startupTimeout)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// startupTimeout fires when the startup SABM response window elapses.
// After an observed conflict it retries the SABM; otherwise startup has
// failed and the session tears down.
func (s *Session) startupTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != muxStarting {
		return
	}
	if s.conflict && s.attempts < maxStartupAttempts {
		s.conflict = false
		s.attempts++
		delete(s.outCmds, frame.MuxControlDLCI)
		s.sendFrame(frame.MakeSABM(s.role, frame.MuxControlDLCI))
		s.armTimerLocked(s.cfg.RetryInterval)
		return
	}
	s.teardownLocked(errors.New("multiplexer startup timed out"))
}

// --- frame handling ---

func (s *Session) handleFrameLocked(f *frame.Frame) {
	switch f.Type {
	case frame.TypeSABM:
		s.handleSABMLocked(f.DLCI)
	case frame.TypeUA:
		s.handleUALocked(f.DLCI)
	case frame.TypeDM:
		s.handleDMLocked(f.DLCI)
	case frame.TypeDISC:
		s.handleDISCLocked(f.DLCI)
	case frame.TypeUIH:
		if f.Mux != nil {
			s.handleMuxCommandLocked(f.Mux)
		} else {
			s.handleUserDataLocked(f)
		}
	}
}

func (s *Session) handleSABMLocked(d frame.DLCI) {
	if d.IsMuxControl() {
		switch s.state {
		case muxStarting:
			// Simultaneous startup. Refuse the peer's bid and retry our
			// own when the response window elapses.
			s.conflict = true
			s.sendFrame(frame.MakeDM(s.role, d))
		case muxIdle:
			s.role = frame.RoleResponder
			s.state = muxStarted
			s.attempts = 0
			s.sendFrame(frame.MakeUA(s.role, d))
			s.processPendingLocked()
		default:
			log.Printf("rfcomm %s: SABM on control DLCI with multiplexer already started", s.id)
			s.sendFrame(frame.MakeDM(s.role, d))
		}
		return
	}

	if s.state != muxStarted {
		s.sendFrame(frame.MakeDM(s.role, d))
		return
	}
	if err := d.Validate(s.role); err != nil {
		log.Printf("rfcomm %s: SABM with invalid DLCI: %v", s.id, err)
		s.sendFrame(frame.MakeDM(s.role, d))
		return
	}
	if s.accept == nil {
		s.sendFrame(frame.MakeDM(s.role, d))
		return
	}
	ch := s.reserveChannelLocked(d)
	if ch.state != channelNegotiating {
		log.Printf("rfcomm %s: SABM for already established DLCI %d", s.id, d)
		s.sendFrame(frame.MakeDM(s.role, d))
		return
	}
	s.establishLocked(ch)
	s.sendFrame(frame.MakeUA(s.role, d))
	s.sendFrame(frame.MakeMuxCommand(s.role, frame.MakeModemStatus(frame.Command, d)))
	go s.accept(ch.sc, ch)
}

func (s *Session) handleUALocked(d frame.DLCI) {
	sent, ok := s.outCmds[d]
	if !ok {
		log.Printf("rfcomm %s: unexpected UA on DLCI %d", s.id, d)
		return
	}
	delete(s.outCmds, d)

	switch {
	case sent == frame.TypeSABM && d.IsMuxControl():
		if s.state != muxStarting {
			// Startup was canceled or already completed.
			return
		}
		s.role = frame.RoleInitiator
		s.state = muxStarted
		s.attempts = 0
		s.conflict = false
		s.stopTimerLocked()
		s.processPendingLocked()

	case sent == frame.TypeSABM:
		ch := s.channels[d]
		if ch == nil || ch.state != channelNegotiating {
			log.Printf("rfcomm %s: UA for unknown DLCI %d", s.id, d)
			return
		}
		s.establishLocked(ch)
		s.sendFrame(frame.MakeMuxCommand(s.role, frame.MakeModemStatus(frame.Command, d)))
		fn := ch.openFn
		ch.openFn = nil
		if fn != nil {
			go fn(ch, ch.sc)
		}

	case sent == frame.TypeDISC && d.IsMuxControl():
		s.teardownLocked(nil)

	case sent == frame.TypeDISC:
		s.removeChannelLocked(d)
	}
}

func (s *Session) handleDMLocked(d frame.DLCI) {
	sent, ok := s.outCmds[d]
	if !ok {
		log.Printf("rfcomm %s: unexpected DM on DLCI %d", s.id, d)
		return
	}
	delete(s.outCmds, d)

	switch {
	case sent == frame.TypeSABM && d.IsMuxControl():
		if s.conflict {
			// The refusal we expected during simultaneous startup; our
			// retry is already scheduled.
			return
		}
		// The peer refused startup outright. Treated as a no-op: the
		// multiplexer returns to idle and a later peer SABM or local
		// open proceeds normally.
		s.stopTimerLocked()
		s.state = muxIdle
		s.attempts = 0
		s.failPendingLocked()

	case sent == frame.TypeSABM:
		// DLC open rejected.
		ch := s.channels[d]
		delete(s.channels, d)
		if ch != nil {
			fn := ch.openFn
			ch.closedLocked()
			if fn != nil {
				go fn(nil, ch.sc)
			}
		}

	case sent == frame.TypeDISC && d.IsMuxControl():
		s.teardownLocked(nil)

	case sent == frame.TypeDISC:
		s.removeChannelLocked(d)
	}
}

func (s *Session) handleDISCLocked(d frame.DLCI) {
	if d.IsMuxControl() {
		// Peer requested termination of the whole session.
		s.sendFrame(frame.MakeUA(s.role, d))
		s.teardownLocked(nil)
		return
	}
	if _, ok := s.channels[d]; !ok {
		log.Printf("rfcomm %s: DISC for unopened DLCI %d", s.id, d)
		s.sendFrame(frame.MakeDM(s.role, d))
		return
	}
	s.sendFrame(frame.MakeUA(s.role, d))
	s.removeChannelLocked(d)
}

func (s *Session) handleUserDataLocked(f *frame.Frame) {
	ch := s.channels[f.DLCI]
	if ch == nil || ch.state != channelOpen {
		log.Printf("rfcomm %s: user data for unopened DLCI %d", s.id, f.DLCI)
		s.sendFrame(frame.MakeDM(s.role, f.DLCI))
		return
	}
	ch.addCreditsLocked(f.Credits)
	if len(f.Data) > 0 {
		ch.deliverLocked(f.Data)
	}
}

// --- multiplexer commands ---

func (s *Session) handleMuxCommandLocked(cmd frame.MuxCommand) {
	if cmd.Direction() == frame.Response {
		sent, ok := s.outMux[cmd.Key()]
		if !ok {
			log.Printf("rfcomm %s: unexpected %v response", s.id, cmd.Type())
			return
		}
		delete(s.outMux, cmd.Key())
		switch resp := cmd.(type) {
		case *frame.ParamNegotiation:
			s.handlePNResponseLocked(sent.(*frame.ParamNegotiation), resp)
		case *frame.ModemStatus, *frame.TestPattern, *frame.RemotePortNegotiation, *frame.RemoteLineStatus:
			// Acknowledged, nothing further to do.
		default:
			log.Printf("rfcomm %s: unhandled %v response", s.id, cmd.Type())
		}
		return
	}

	switch c := cmd.(type) {
	case *frame.ParamNegotiation:
		s.handlePNCommandLocked(c)
	case *frame.ModemStatus:
		if ch := s.channels[c.DLCI]; ch != nil {
			ch.remoteSignals = c.Signals
		}
		echo := *c
		echo.CR = frame.Response
		s.sendFrame(frame.MakeMuxCommand(s.role, &echo))
	case *frame.RemotePortNegotiation:
		s.sendFrame(frame.MakeMuxCommand(s.role, c.Response()))
	case *frame.RemoteLineStatus:
		echo := *c
		echo.CR = frame.Response
		s.sendFrame(frame.MakeMuxCommand(s.role, &echo))
	case *frame.TestPattern:
		s.sendFrame(frame.MakeMuxCommand(s.role, &frame.TestPattern{
			CR:   frame.Response,
			Data: append([]byte(nil), c.Data...),
		}))
	case *frame.FlowControlOff:
		s.flowStopped = true
		s.sendFrame(frame.MakeMuxCommand(s.role, &frame.FlowControlOff{CR: frame.Response}))
	case *frame.FlowControlOn:
		s.flowStopped = false
		s.sendFrame(frame.MakeMuxCommand(s.role, &frame.FlowControlOn{CR: frame.Response}))
		for _, ch := range s.channels {
			ch.flushLocked()
		}
	default:
		log.Printf("rfcomm %s: ignoring %v command", s.id, cmd.Type())
	}
}

// handlePNCommandLocked answers a peer-initiated parameter negotiation,
// accepting or shrinking the proposal.
func (s *Session) handlePNCommandLocked(c *frame.ParamNegotiation) {
	if !c.DLCI.IsUser() {
		log.Printf("rfcomm %s: PN command for invalid DLCI %d", s.id, c.DLCI)
		s.sendFrame(frame.MakeDM(s.role, c.DLCI))
		return
	}
	if s.state != muxStarted {
		log.Printf("rfcomm %s: PN command before multiplexer startup", s.id)
		return
	}

	limit := s.cfg.MaxFrameSize
	if s.params == paramsNegotiated {
		limit = s.maxFrameSize
	}
	maxFrame := limit
	if c.MaxFrameSize > 0 && c.MaxFrameSize < maxFrame {
		maxFrame = c.MaxFrameSize
	}
	s.maxFrameSize = maxFrame
	s.creditFlow = c.Handshake == frame.HandshakeSupportedRequest && !s.cfg.DisableCreditFlow
	s.params = paramsNegotiated

	ch := s.reserveChannelLocked(c.DLCI)
	if s.creditFlow && ch.state == channelNegotiating {
		ch.sendCredits = int(c.InitialCredits)
	}

	handshake := frame.HandshakeUnsupported
	if s.creditFlow {
		handshake = frame.HandshakeSupportedResponse
	}
	s.sendFrame(frame.MakeMuxCommand(s.role, &frame.ParamNegotiation{
		CR:             frame.Response,
		DLCI:           c.DLCI,
		Priority:       c.Priority,
		Handshake:      handshake,
		MaxFrameSize:   maxFrame,
		InitialCredits: s.cfg.InitialCredits,
	}))
}

// handlePNResponseLocked validates the peer's answer to our parameter
// negotiation. A response proposing a larger max frame size than we
// offered is a protocol violation: the candidate DLCI is disconnected
// and the blocked open requests fail.
func (s *Session) handlePNResponseLocked(req, resp *frame.ParamNegotiation) {
	if resp.MaxFrameSize == 0 || resp.MaxFrameSize > req.MaxFrameSize {
		log.Printf("rfcomm %s: PN response with invalid max frame size %d (proposed %d)",
			s.id, resp.MaxFrameSize, req.MaxFrameSize)
		s.sendFrame(frame.MakeDISC(s.role, resp.DLCI))
		s.params = paramsNotNegotiated
		s.failPendingLocked()
		return
	}
	s.maxFrameSize = resp.MaxFrameSize
	s.creditFlow = req.Handshake == frame.HandshakeSupportedRequest &&
		resp.Handshake == frame.HandshakeSupportedResponse
	s.params = paramsNegotiated

	ch := s.reserveChannelLocked(resp.DLCI)
	if s.creditFlow {
		ch.sendCredits = int(resp.InitialCredits)
	}
	s.processPendingLocked()
}

// --- DLC management ---

func (s *Session) openLocked(sc ServerChannel, fn OpenFunc) {
	dlci, err := sc.DLCI(s.role.Opposite())
	if err != nil {
		log.Printf("rfcomm %s: cannot derive DLCI: %v", s.id, err)
		go fn(nil, sc)
		return
	}

	// Session-wide parameters are negotiated once, before the first DLC
	// (RFCOMM 5.5.3). Later opens go straight to SABM.
	if s.params != paramsNegotiated {
		s.pending = append(s.pending, pendingOpen{sc, fn})
		if s.params == paramsNotNegotiated {
			s.startPNLocked(dlci)
		}
		return
	}

	// A channel reserved during negotiation but not yet requested is
	// adopted; anything further along means the DLCI is taken.
	if ch, ok := s.channels[dlci]; ok && (ch.state != channelNegotiating || ch.openFn != nil) {
		log.Printf("rfcomm %s: open for DLCI %d: %v", s.id, dlci, ErrChannelExists)
		go fn(nil, sc)
		return
	}
	ch := s.reserveChannelLocked(dlci)
	ch.openFn = fn
	s.sendFrame(frame.MakeSABM(s.role, dlci))
}

func (s *Session) startPNLocked(dlci frame.DLCI) {
	s.params = paramsNegotiating
	handshake := frame.HandshakeSupportedRequest
	if s.cfg.DisableCreditFlow {
		handshake = frame.HandshakeUnsupported
	}
	s.sendFrame(frame.MakeMuxCommand(s.role, &frame.ParamNegotiation{
		CR:             frame.Command,
		DLCI:           dlci,
		Priority:       defaultPriority,
		Handshake:      handshake,
		MaxFrameSize:   s.cfg.MaxFrameSize,
		InitialCredits: s.cfg.InitialCredits,
	}))
}

// processPendingLocked replays open requests that were queued behind
// multiplexer startup or parameter negotiation.
func (s *Session) processPendingLocked() {
	if s.state != muxStarted {
		return
	}
	queued := s.pending
	s.pending = nil
	for _, p := range queued {
		s.openLocked(p.sc, p.fn)
	}
}

func (s *Session) failPendingLocked() {
	queued := s.pending
	s.pending = nil
	for _, p := range queued {
		go p.fn(nil, p.sc)
	}
}

func (s *Session) reserveChannelLocked(d frame.DLCI) *Channel {
	if ch, ok := s.channels[d]; ok {
		return ch
	}
	ch := newChannel(s, d)
	s.channels[d] = ch
	return ch
}

func (s *Session) establishLocked(ch *Channel) {
	ch.state = channelOpen
	ch.maxFrameSize = s.maxFrameSize
	ch.creditFlow = s.creditFlow
	// A DLC whose credits were never negotiated starts with the default
	// grant (RFCOMM 6.5.2).
	if ch.creditFlow && ch.sendCredits == 0 {
		ch.sendCredits = DefaultInitialCredits
	}
}

func (s *Session) removeChannelLocked(d frame.DLCI) {
	ch := s.channels[d]
	delete(s.channels, d)
	if ch != nil {
		ch.closedLocked()
	}
}

// --- teardown ---

func (s *Session) teardownLocked(reason error) {
	if s.closed {
		return
	}
	s.closed = true
	s.state = muxClosed
	s.stopTimerLocked()
	for d, ch := range s.channels {
		delete(s.channels, d)
		fn := ch.openFn
		ch.openFn = nil
		ch.closedLocked()
		if fn != nil {
			go fn(nil, ch.sc)
		}
	}
	s.failPendingLocked()
	if !s.linkGone {
		if err := s.link.Close(); err != nil {
			log.Printf("rfcomm %s: closing link: %v", s.id, err)
		}
	}
	if reason != nil {
		log.Printf("rfcomm %s: session closed: %v", s.id, reason)
	}
	s.closeErr = reason
	close(s.done)
	if s.closeHook != nil {
		go s.closeHook(s)
	}
}

// --- transmission ---

// sendFrame registers the frame with the outstanding bookkeeping,
// serializes it and hands it to the link. Outbound order follows call
// order; the caller holds the session lock.
func (s *Session) sendFrame(f *frame.Frame) {
	if f.Type != frame.TypeUIH && f.CR == frame.Command && f.PF {
		if _, ok := s.outCmds[f.DLCI]; ok {
			log.Printf("rfcomm %s: dropping %v: command already outstanding on DLCI %d", s.id, f, f.DLCI)
			return
		}
		s.outCmds[f.DLCI] = f.Type
	}
	if f.Mux != nil && f.Mux.Direction() == frame.Command {
		key := f.Mux.Key()
		if _, ok := s.outMux[key]; ok {
			log.Printf("rfcomm %s: dropping %v: command already outstanding", s.id, f)
			return
		}
		s.outMux[key] = f.Mux
	}
	buf, err := f.Bytes()
	if err != nil {
		log.Printf("rfcomm %s: encoding %v: %v", s.id, f, err)
		return
	}
	if s.cfg.NetLog {
		log.Printf("rfcomm %s: send %v", s.id, f)
	}
	if err := s.link.Send(buf); err != nil {
		log.Printf("rfcomm %s: link send: %v", s.id, err)
	}
}
