package frame

import "fmt"

// maxInfoLength is the largest information field the two-octet length
// encoding can describe.
const maxInfoLength = 0x7FFF

// Bytes serializes the frame, computing the FCS octet.
func (f *Frame) Bytes() ([]byte, error) {
	if !f.Type.valid() {
		return nil, fmt.Errorf("frame: invalid frame type %#02x", uint8(f.Type))
	}

	var info []byte
	switch {
	case f.Mux != nil:
		if f.Type != TypeUIH || !f.DLCI.IsMuxControl() {
			return nil, fmt.Errorf("frame: mux command outside control channel UIH")
		}
		info = f.Mux.Bytes()
	case len(f.Data) > 0:
		if f.Type != TypeUIH {
			return nil, fmt.Errorf("frame: %v frame cannot carry payload", f.Type)
		}
		info = f.Data
	}
	if len(info) > maxInfoLength {
		return nil, fmt.Errorf("frame: information field too long (%d)", len(info))
	}

	buf := make([]byte, 0, len(info)+6)
	buf = append(buf, 0x01|crBit(f.Role, f.CR)<<1|uint8(f.DLCI)<<2)
	control := uint8(f.Type)
	if f.PF {
		control |= pfBit
	}
	buf = append(buf, control)
	if n := len(info); n <= 0x7F {
		buf = append(buf, uint8(n)<<1|0x01)
	} else {
		buf = append(buf, uint8(n&0x7F)<<1, uint8(n>>7))
	}

	// The FCS covers address, control and length for every type but UIH,
	// where it covers address and control only.
	covered := len(buf)
	if f.Type == TypeUIH {
		covered = 2
	}
	check := fcs(buf[:covered])

	if f.Type == TypeUIH && f.PF {
		buf = append(buf, f.Credits)
	}
	buf = append(buf, info...)
	buf = append(buf, check)

	if Debug != nil {
		fmt.Fprintln(Debug, "<<ENC", f)
	}
	return buf, nil
}
