package btle

import "math/bits"

// Hit is a preamble and access address match.
type Hit struct {
	Position      int    `json:"position"` // index of the first preamble symbol
	Phase         int    `json:"phase"`
	AccessAddress uint32 `json:"access_address"`
	Distance      int    `json:"distance"`
}

// Scanner looks for a fixed set of access addresses in a symbol stream.
type Scanner struct {
	addresses []uint32
	maxError  int
}

// NewScanner returns a scanner for the advertising access address plus any
// extra addresses supplied.
func NewScanner(maxError int, extra ...uint32) *Scanner {
	s := &Scanner{maxError: maxError}
	s.Add(AdvertisingAccessAddress)
	for _, aa := range extra {
		s.Add(aa)
	}
	return s
}

// Add registers another access address. Duplicates are ignored.
func (s *Scanner) Add(aa uint32) {
	for _, have := range s.addresses {
		if have == aa {
			return
		}
	}
	s.addresses = append(s.addresses, aa)
}

// Addresses returns the registered access addresses.
func (s *Scanner) Addresses() []uint32 {
	return append([]uint32(nil), s.addresses...)
}

// Find returns the first hit that starts at an index below limit.
func (s *Scanner) Find(symbols []byte, limit int) (Hit, bool) {
	for i := 0; i < limit && i+SymbolsPerPreambleAA <= len(symbols); i++ {
		pre := symbolsToUint(symbols[i : i+8])
		aa := symbolsToUint(symbols[i+8 : i+SymbolsPerPreambleAA])
		for _, want := range s.addresses {
			d := bits.OnesCount32(pre^uint32(Preamble(want))) + bits.OnesCount32(aa^want)
			if d <= s.maxError {
				return Hit{Position: i, AccessAddress: want, Distance: d}, true
			}
		}
	}
	return Hit{}, false
}

func symbolsToUint(symbols []byte) uint32 {
	var v uint32
	for i, b := range symbols {
		v |= uint32(b&1) << uint(i)
	}
	return v
}

// symbolsToBytes packs symbols LSB first. The final partial byte is dropped.
func symbolsToBytes(symbols []byte) []byte {
	out := make([]byte, len(symbols)/8)
	for i := range out {
		out[i] = byte(symbolsToUint(symbols[i*8 : i*8+8]))
	}
	return out
}

func bytesToSymbols(data []byte) []byte {
	out := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for j := 0; j < 8; j++ {
			out = append(out, (b>>uint(j))&1)
		}
	}
	return out
}
