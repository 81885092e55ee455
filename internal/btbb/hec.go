package btbb

import "math/bits"

// hecPoly holds the low taps of the HEC generator D^8 + D^7 + D^5 + D^2 + D + 1.
const hecPoly uint8 = 0xA7

// HEC computes the header error check over the 10 header data bits. Bit i of
// data is header bit i on air (LT_ADDR first). The register is initialised
// with the bit-reversed UAP.
func HEC(data uint16, uap uint8) uint8 {
	reg := bits.Reverse8(uap)
	for i := 0; i < 10; i++ {
		t := ((reg >> 7) ^ uint8(data>>uint(i))) & 1
		reg <<= 1
		if t == 1 {
			reg ^= hecPoly
		}
	}
	return reg
}

// UAPFromHEC runs the HEC register backwards from a received check value and
// returns the only UAP that produces it for the given header data.
func UAPFromHEC(data uint16, hec uint8) uint8 {
	reg := hec
	for i := 9; i >= 0; i-- {
		t := reg & 1
		if t == 1 {
			reg ^= hecPoly
		}
		reg = (reg >> 1) | ((t ^ uint8(data>>uint(i))&1) << 7)
	}
	return bits.Reverse8(reg)
}
