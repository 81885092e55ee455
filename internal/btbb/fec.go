package btbb

import "errors"

// ErrFECUncorrectable is returned when a 2/3 FEC block has more errors than
// the shortened Hamming code can fix.
var ErrFECUncorrectable = errors.New("fec 2/3 block uncorrectable")

const (
	fec23Data   = 10
	fec23Parity = 5
	fec23Block  = fec23Data + fec23Parity

	// fec23Poly holds the low taps of g(D) = D^5 + D^4 + D^2 + 1.
	fec23Poly uint8 = 0x15
)

// DecodeFEC13 majority-votes each group of three repeated symbols.
func DecodeFEC13(symbols []byte) []byte {
	out := make([]byte, len(symbols)/3)
	for i := range out {
		sum := symbols[3*i]&1 + symbols[3*i+1]&1 + symbols[3*i+2]&1
		if sum >= 2 {
			out[i] = 1
		}
	}
	return out
}

// EncodeFEC13 repeats each bit three times.
func EncodeFEC13(bits []byte) []byte {
	out := make([]byte, 0, len(bits)*3)
	for _, b := range bits {
		out = append(out, b, b, b)
	}
	return out
}

// fec23ParityBits returns the 5 parity bits for a 10-bit block, in the order
// they are sent.
func fec23ParityBits(data []byte) uint8 {
	var reg uint8
	for _, b := range data {
		fb := (b & 1) ^ ((reg >> 4) & 1)
		reg = (reg << 1) & 0x1f
		if fb == 1 {
			reg ^= fec23Poly
		}
	}
	// Reverse so bit j is the j-th parity bit on air.
	var out uint8
	for j := 0; j < fec23Parity; j++ {
		out |= ((reg >> uint(4-j)) & 1) << uint(j)
	}
	return out
}

// EncodeFEC23 appends parity to every 10-bit block. The input is padded with
// zeros to a whole number of blocks.
func EncodeFEC23(bits []byte) []byte {
	blocks := (len(bits) + fec23Data - 1) / fec23Data
	padded := make([]byte, blocks*fec23Data)
	copy(padded, bits)

	out := make([]byte, 0, blocks*fec23Block)
	for i := 0; i < blocks; i++ {
		data := padded[i*fec23Data : (i+1)*fec23Data]
		out = append(out, data...)
		out = append(out, hostToAir(uint64(fec23ParityBits(data)), fec23Parity)...)
	}
	return out
}

// fec23Syndromes maps a non-zero syndrome to the symbol position in error.
var fec23Syndromes = buildFEC23Syndromes()

func buildFEC23Syndromes() map[uint8]int {
	table := make(map[uint8]int, fec23Block)
	for pos := 0; pos < fec23Block; pos++ {
		block := make([]byte, fec23Block)
		block[pos] = 1
		table[fec23Syndrome(block)] = pos
	}
	return table
}

func fec23Syndrome(block []byte) uint8 {
	return fec23ParityBits(block[:fec23Data]) ^ uint8(airToHost(block[fec23Data:fec23Block]))
}

// DecodeFEC23Block corrects a single 15-symbol block and returns its 10 data
// bits.
func DecodeFEC23Block(block []byte) ([]byte, error) {
	data := make([]byte, fec23Data)
	copy(data, block[:fec23Data])

	s := fec23Syndrome(block)
	if s == 0 {
		return data, nil
	}
	pos, ok := fec23Syndromes[s]
	if !ok {
		return nil, ErrFECUncorrectable
	}
	if pos < fec23Data {
		data[pos] ^= 1
	}
	return data, nil
}

// DecodeFEC23 decodes a run of whole 15-symbol blocks.
func DecodeFEC23(symbols []byte) ([]byte, error) {
	blocks := len(symbols) / fec23Block
	out := make([]byte, 0, blocks*fec23Data)
	for i := 0; i < blocks; i++ {
		data, err := DecodeFEC23Block(symbols[i*fec23Block : (i+1)*fec23Block])
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
