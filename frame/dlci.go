package frame

import "fmt"

// Role is the role a device holds in an RFCOMM session. The role is
// established during multiplexer startup and never changes afterwards.
type Role uint8

const (
	RoleUnassigned Role = iota
	RoleInitiator
	RoleResponder
)

// Opposite returns the role held by the remote peer.
func (r Role) Opposite() Role {
	switch r {
	case RoleInitiator:
		return RoleResponder
	case RoleResponder:
		return RoleInitiator
	}
	return RoleUnassigned
}

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "unassigned"
}

// CommandResponse classifies a frame or multiplexer command as a command
// or a response. On the wire this is the C/R bit, whose meaning depends
// on the sender's role for frames (GSM 07.10 5.2.1.2) and is fixed for
// multiplexer commands (5.4.6.2).
type CommandResponse uint8

const (
	Command CommandResponse = iota
	Response
)

func (cr CommandResponse) String() string {
	if cr == Response {
		return "response"
	}
	return "command"
}

// DLCI is a Data Link Connection Identifier. DLCI 0 is reserved for the
// multiplexer control channel, 1 and 62-63 are reserved, and 2-61 address
// user channels.
type DLCI uint8

// MuxControlDLCI addresses the multiplexer control channel.
const MuxControlDLCI DLCI = 0

// IsMuxControl reports whether d addresses the multiplexer control channel.
func (d DLCI) IsMuxControl() bool { return d == MuxControlDLCI }

// IsUser reports whether d addresses a user channel.
func (d DLCI) IsUser() bool { return d >= 2 && d <= 61 }

// Validate checks that d is acceptable as the target of a peer-initiated
// channel. The direction bit of a user DLCI identifies the role of the
// device hosting the server channel, which for an inbound open must be
// the local device.
func (d DLCI) Validate(local Role) error {
	if !d.IsUser() {
		return fmt.Errorf("frame: DLCI %d is not a user DLCI", d)
	}
	direction := uint8(d) & 0x01
	switch local {
	case RoleInitiator:
		if direction != 1 {
			return fmt.Errorf("frame: DLCI %d has responder direction bit", d)
		}
	case RoleResponder:
		if direction != 0 {
			return fmt.Errorf("frame: DLCI %d has initiator direction bit", d)
		}
	default:
		return fmt.Errorf("frame: cannot validate DLCI %d with unassigned role", d)
	}
	return nil
}

// ServerChannel returns the server channel number d addresses.
func (d DLCI) ServerChannel() (ServerChannel, error) {
	if !d.IsUser() {
		return 0, fmt.Errorf("frame: DLCI %d has no server channel", d)
	}
	return ServerChannel(d >> 1), nil
}

// ServerChannel is an RFCOMM server channel number, 1-30.
type ServerChannel uint8

const (
	MinServerChannel ServerChannel = 1
	MaxServerChannel ServerChannel = 30
)

// Valid reports whether sc is within the server channel number range.
func (sc ServerChannel) Valid() bool {
	return sc >= MinServerChannel && sc <= MaxServerChannel
}

// DLCI returns the DLCI addressing sc when the server channel is hosted
// by the device holding the given role. Per RFCOMM 5.4 the DLCI is the
// channel number shifted up one bit, with the direction bit set when the
// host is the session initiator.
func (sc ServerChannel) DLCI(host Role) (DLCI, error) {
	if !sc.Valid() {
		return 0, fmt.Errorf("frame: invalid server channel %d", sc)
	}
	switch host {
	case RoleInitiator:
		return DLCI(sc<<1 | 1), nil
	case RoleResponder:
		return DLCI(sc << 1), nil
	}
	return 0, fmt.Errorf("frame: cannot derive DLCI with unassigned role")
}
