// Package rfcomm implements the RFCOMM (GSM 07.10) multiplexer: it
// multiplexes numbered, individually flow-controlled data channels over
// a single reliable L2CAP connection. A Session owns one underlying
// link, drives multiplexer startup and parameter negotiation, and opens
// and accepts DLCs. A Manager maps links to Sessions.
package rfcomm

import (
	"time"

	"github.com/pkg/errors"

	"github.com/portmux/rfcomm-go/frame"
)

// Re-exported wire-level identifiers. See the frame package for the
// encoding rules.
type (
	DLCI          = frame.DLCI
	ServerChannel = frame.ServerChannel
	Role          = frame.Role
)

const (
	RoleUnassigned = frame.RoleUnassigned
	RoleInitiator  = frame.RoleInitiator
	RoleResponder  = frame.RoleResponder
)

// ServerChannelToDLCI returns the DLCI addressing a server channel hosted
// by the device holding the given role.
func ServerChannelToDLCI(sc ServerChannel, host Role) (DLCI, error) {
	return sc.DLCI(host)
}

const (
	// DefaultStartupTimeout bounds how long a session waits for the
	// peer to answer the multiplexer startup SABM.
	DefaultStartupTimeout = 5 * time.Second

	// DefaultMaxFrameSize is the maximum frame size proposed during
	// parameter negotiation, per RFCOMM 5.5.3.
	DefaultMaxFrameSize = 127

	// DefaultInitialCredits is the initial credit grant proposed during
	// parameter negotiation. The PN encoding caps it at 7.
	DefaultInitialCredits = 7

	// maxStartupAttempts bounds SABM retries during startup conflict
	// resolution so two stubborn peers cannot ping-pong forever.
	maxStartupAttempts = 5
)

// Config carries the tunable parameters of a Session. The zero value
// selects the defaults.
type Config struct {
	// StartupTimeout is the response window for the startup SABM. If
	// it elapses with no response the session tears down.
	StartupTimeout time.Duration

	// RetryInterval is the response window re-armed after a conflict
	// driven SABM retry. Defaults to StartupTimeout.
	RetryInterval time.Duration

	// MaxFrameSize is the frame size proposed in parameter negotiation.
	MaxFrameSize uint16

	// DisableCreditFlow proposes no credit-based flow control in the
	// parameter negotiation handshake.
	DisableCreditFlow bool

	// InitialCredits is the credit grant offered to the peer, 1-7.
	InitialCredits uint8

	// NetLog logs every sent and received frame using the log package.
	NetLog bool
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = c.StartupTimeout
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.InitialCredits == 0 || c.InitialCredits > 7 {
		c.InitialCredits = DefaultInitialCredits
	}
	return c
}

var (
	// ErrSessionClosed is returned for operations on a torn down session.
	ErrSessionClosed = errors.New("rfcomm: session closed")

	// ErrChannelClosed is returned for reads and writes on a closed DLC.
	ErrChannelClosed = errors.New("rfcomm: channel closed")

	// ErrChannelExists is returned when opening a DLCI that already has
	// a live channel.
	ErrChannelExists = errors.New("rfcomm: channel already established")
)
