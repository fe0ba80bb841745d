package frame

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeParse(t *testing.T) {
	tests := []struct {
		name       string
		in         *Frame
		sender     Role
		creditFlow bool
	}{
		{
			name:   "sabm control",
			in:     MakeSABM(RoleUnassigned, MuxControlDLCI),
			sender: RoleUnassigned,
		},
		{
			name:   "ua control",
			in:     MakeUA(RoleResponder, MuxControlDLCI),
			sender: RoleResponder,
		},
		{
			name:   "dm user dlci",
			in:     MakeDM(RoleInitiator, 6),
			sender: RoleInitiator,
		},
		{
			name:   "disc user dlci",
			in:     MakeDISC(RoleResponder, 7),
			sender: RoleResponder,
		},
		{
			name:   "user data",
			in:     MakeUserData(RoleInitiator, 6, []byte("Hello")),
			sender: RoleInitiator,
		},
		{
			name: "user data with credits",
			in: &Frame{
				Role: RoleResponder, DLCI: 9, Type: TypeUIH, CR: Command,
				PF: true, Data: []byte{0xAA, 0xBB}, Credits: 3,
			},
			sender:     RoleResponder,
			creditFlow: true,
		},
		{
			name:       "credit grant",
			in:         MakeCreditGrant(RoleInitiator, 6, 5),
			sender:     RoleInitiator,
			creditFlow: true,
		},
		{
			name: "pn command",
			in: MakeMuxCommand(RoleInitiator, &ParamNegotiation{
				CR: Command, DLCI: 6, Priority: 12,
				Handshake: HandshakeSupportedRequest, MaxFrameSize: 672, InitialCredits: 7,
			}),
			sender: RoleInitiator,
		},
		{
			name: "pn response",
			in: MakeMuxCommand(RoleResponder, &ParamNegotiation{
				CR: Response, DLCI: 6,
				Handshake: HandshakeSupportedResponse, MaxFrameSize: 127, InitialCredits: 2,
			}),
			sender: RoleResponder,
		},
		{
			name:   "modem status",
			in:     MakeMuxCommand(RoleInitiator, MakeModemStatus(Command, 6)),
			sender: RoleInitiator,
		},
		{
			name: "modem status with break",
			in: MakeMuxCommand(RoleInitiator, &ModemStatus{
				CR: Command, DLCI: 8, Signals: SignalRTC | SignalRTR,
				HasBreak: true, Break: 0x3,
			}),
			sender: RoleInitiator,
		},
		{
			name: "rpn query",
			in: MakeMuxCommand(RoleResponder, &RemotePortNegotiation{
				CR: Command, DLCI: 6,
			}),
			sender: RoleResponder,
		},
		{
			name: "rls",
			in: MakeMuxCommand(RoleInitiator, &RemoteLineStatus{
				CR: Command, DLCI: 6, Status: 0x05,
			}),
			sender: RoleInitiator,
		},
		{
			name: "test pattern",
			in: MakeMuxCommand(RoleInitiator, &TestPattern{
				CR: Command, Data: []byte{1, 2, 3, 4},
			}),
			sender: RoleInitiator,
		},
		{
			name:   "fcoff",
			in:     MakeMuxCommand(RoleResponder, &FlowControlOff{CR: Command}),
			sender: RoleResponder,
		},
		{
			name: "nsc",
			in: MakeMuxCommand(RoleInitiator, &NonSupported{
				CR: Response, BadOctet: 0xC3,
			}),
			sender: RoleInitiator,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf, err := test.in.Bytes()
			if err != nil {
				t.Fatal(err)
			}
			got, n, err := Parse(test.sender, test.creditFlow, buf)
			if err != nil {
				t.Fatal(err)
			}
			if n != len(buf) {
				t.Fatalf("consumed %d of %d bytes", n, len(buf))
			}
			if !reflect.DeepEqual(got, test.in) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, test.in)
			}
		})
	}
}

func TestParseStream(t *testing.T) {
	// Two frames delivered back to back must parse in sequence.
	a, err := MakeSABM(RoleUnassigned, MuxControlDLCI).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	b, err := MakeUserData(RoleInitiator, 6, []byte("data")).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	buf := append(append([]byte(nil), a...), b...)

	f1, n, err := Parse(RoleUnassigned, false, buf)
	if err != nil {
		t.Fatal(err)
	}
	if f1.Type != TypeSABM || n != len(a) {
		t.Fatalf("got %v consuming %d", f1, n)
	}
	f2, n, err := Parse(RoleInitiator, false, buf[n:])
	if err != nil {
		t.Fatal(err)
	}
	if f2.Type != TypeUIH || !bytes.Equal(f2.Data, []byte("data")) || n != len(b) {
		t.Fatalf("got %v consuming %d", f2, n)
	}
}

func TestParseTruncated(t *testing.T) {
	full, err := MakeUserData(RoleInitiator, 6, bytes.Repeat([]byte{0x55}, 200)).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{0, 1, 3, 4, len(full) / 2, len(full) - 1} {
		if _, _, err := Parse(RoleInitiator, false, full[:cut]); !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestParseBadFCS(t *testing.T) {
	buf, err := MakeSABM(RoleUnassigned, MuxControlDLCI).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 0xFF
	_, n, err := Parse(RoleUnassigned, false, buf)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if n != len(buf) {
		t.Fatalf("bad-FCS frame should still be skippable, consumed %d", n)
	}
}

func TestParseBadControlField(t *testing.T) {
	buf, err := MakeSABM(RoleUnassigned, MuxControlDLCI).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	buf[1] = 0x55 // not a defined frame type
	_, n, err := Parse(RoleUnassigned, false, buf)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if n == 0 {
		t.Fatal("length was parseable, frame should be skippable")
	}
}

func TestParseUnsupportedMuxCommand(t *testing.T) {
	// Hand-build a UIH control frame carrying an undefined command type.
	body := []byte{0xC3, 0x01} // CLD, not supported by this implementation
	hdr := []byte{0x01 | 1<<1, uint8(TypeUIH), uint8(len(body))<<1 | 1}
	buf := append(hdr, body...)
	buf = append(buf, fcs(hdr[:2]))

	_, n, err := Parse(RoleInitiator, false, buf)
	var ue *UnsupportedCommandError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedCommandError, got %v", err)
	}
	if ue.TypeOctet != 0xC3 {
		t.Fatalf("wrong offending octet %#02x", ue.TypeOctet)
	}
	if n != len(buf) {
		t.Fatalf("unsupported command should still be skippable, consumed %d", n)
	}
}

func TestLongInformationField(t *testing.T) {
	// Payloads over 127 bytes take the two-octet length form.
	payload := bytes.Repeat([]byte{0xA5}, 300)
	f := MakeUserData(RoleInitiator, 6, payload)
	buf, err := f.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	got, n, err := Parse(RoleInitiator, false, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) || !bytes.Equal(got.Data, payload) {
		t.Fatalf("long payload round trip failed (consumed %d)", n)
	}
}

func TestFCSKnownResidue(t *testing.T) {
	p := []byte{0x03, 0x3F, 0x01}
	if !fcsValid(p, fcs(p)) {
		t.Fatal("FCS over its own covered octets must leave the valid residue")
	}
	if fcsValid(p, fcs(p)^0x01) {
		t.Fatal("corrupted FCS accepted")
	}
}
