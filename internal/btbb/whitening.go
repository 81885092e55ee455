package btbb

// Whitener generates the data whitening sequence for a packet. The LFSR
// polynomial is D^7 + D^4 + 1 and the register is seeded with CLK1..CLK6 of
// the piconet clock with bit 6 forced to one. The same sequence runs through
// the header and continues into the payload.
type Whitener struct {
	reg uint8
}

// NewWhitener returns a whitener seeded with clk. Only CLK1..6 are used.
func NewWhitener(clk uint32) *Whitener {
	return &Whitener{reg: uint8(clk&CLK6_MASK) | 0x40}
}

// Next returns the next whitening bit.
func (w *Whitener) Next() byte {
	out := (w.reg >> 6) & 1
	fb := ((w.reg >> 6) ^ (w.reg >> 3)) & 1
	w.reg = ((w.reg << 1) | fb) & 0x7f
	return out
}

// Apply whitens (or dewhitens) bits in place and advances the sequence.
func (w *Whitener) Apply(bits []byte) {
	for i := range bits {
		bits[i] ^= w.Next()
	}
}

// Skip advances the sequence by n bits.
func (w *Whitener) Skip(n int) {
	for i := 0; i < n; i++ {
		w.Next()
	}
}
