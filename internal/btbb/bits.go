package btbb

// Symbols on air are sent least significant bit first. A symbol slice holds
// one bit per element (0 or 1) in the order it was received.

// airToHost packs up to 64 air-order symbols into an integer. Symbol i
// becomes bit i of the result.
func airToHost(symbols []byte) uint64 {
	var v uint64
	for i, s := range symbols {
		v |= uint64(s&1) << uint(i)
	}
	return v
}

// hostToAir unpacks the low n bits of v into air-order symbols.
func hostToAir(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v>>uint(i)) & 1
	}
	return out
}

// bytesToAir unpacks bytes into air order, each byte LSB first.
func bytesToAir(data []byte) []byte {
	out := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for j := 0; j < 8; j++ {
			out = append(out, (b>>uint(j))&1)
		}
	}
	return out
}

// airToBytes packs air-order bits into bytes. Trailing bits that do not fill
// a whole byte are dropped.
func airToBytes(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		out[i] = byte(airToHost(bits[i*8 : i*8+8]))
	}
	return out
}

// hamming counts the positions where a and b differ.
func hamming(a, b []byte) int {
	d := 0
	for i := range a {
		if a[i]&1 != b[i]&1 {
			d++
		}
	}
	return d
}
