package frame

// The FCS is the reflected CRC-8 from GSM 07.10 Annex B, generator
// polynomial x^8 + x^2 + x + 1. The table is built once at init.
var crcTable [256]uint8

func init() {
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0xE0
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

func crc8(p []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range p {
		crc = crcTable[crc^b]
	}
	return crc
}

// fcs computes the frame check sequence octet over p. For UIH frames p is
// the address and control octets only; for all other frame types it also
// covers the length octets.
func fcs(p []byte) uint8 {
	return 0xFF - crc8(p)
}

// fcsValid checks the received check octet against p. Running the CRC over
// the covered octets followed by the FCS octet leaves the fixed residue 0xCF.
func fcsValid(p []byte, check uint8) bool {
	return crcTable[crc8(p)^check] == 0xCF
}
