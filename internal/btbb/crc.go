package btbb

import "math/bits"

// crcPoly holds the low taps of the CCITT generator D^16 + D^12 + D^5 + 1.
const crcPoly uint16 = 0x1021

// CRC16 computes the payload CRC over air-order bits. The register is
// initialised with the bit-reversed UAP in its upper byte (DCI for inquiry
// traffic).
func CRC16(data []byte, uap uint8) uint16 {
	reg := uint16(bits.Reverse8(uap)) << 8
	for _, b := range data {
		t := ((reg >> 15) ^ uint16(b)) & 1
		reg <<= 1
		if t == 1 {
			reg ^= crcPoly
		}
	}
	return reg
}

// crcToAir returns the 16 CRC symbols in transmit order (register MSB first).
func crcToAir(crc uint16) []byte {
	out := make([]byte, 16)
	for j := 0; j < 16; j++ {
		out[j] = byte(crc>>uint(15-j)) & 1
	}
	return out
}

// crcFromAir is the inverse of crcToAir.
func crcFromAir(symbols []byte) uint16 {
	var crc uint16
	for j := 0; j < 16; j++ {
		crc |= uint16(symbols[j]&1) << uint(15-j)
	}
	return crc
}
