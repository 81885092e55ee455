package btbb

import (
	"errors"
	"fmt"
)

var (
	// ErrHECMismatch means the header check did not verify for the UAP and
	// clock supplied.
	ErrHECMismatch = errors.New("header HEC mismatch")
	// ErrInsufficientSymbols means the symbol window ended before the field
	// being decoded.
	ErrInsufficientSymbols = errors.New("insufficient symbols")
)

// Header is a decoded Basic Rate packet header.
type Header struct {
	LTAddr uint8      `json:"lt_addr"`
	Type   PacketType `json:"type"`
	Flow   bool       `json:"flow"`
	ARQN   bool       `json:"arqn"`
	SEQN   bool       `json:"seqn"`
	HEC    uint8      `json:"hec"`
}

// Data returns the 10 header data bits, bit i being header bit i on air.
func (h Header) Data() uint16 {
	d := uint16(h.LTAddr&0x7) | uint16(h.Type&0xf)<<3
	if h.Flow {
		d |= 1 << 7
	}
	if h.ARQN {
		d |= 1 << 8
	}
	if h.SEQN {
		d |= 1 << 9
	}
	return d
}

// Flags packs FLOW, ARQN and SEQN into the low three bits.
func (h Header) Flags() uint8 {
	return uint8(h.Data() >> 7)
}

// Bits returns the 18 unwhitened header bits with the HEC computed for uap.
func (h Header) Bits(uap uint8) []byte {
	out := hostToAir(uint64(h.Data()), 10)
	hec := HEC(h.Data(), uap)
	for j := 0; j < 8; j++ {
		out = append(out, (hec>>uint(7-j))&1)
	}
	return out
}

// unpackHeader splits 18 dewhitened header bits into fields.
func unpackHeader(b []byte) Header {
	data := uint16(airToHost(b[:10]))
	var hec uint8
	for j := 0; j < 8; j++ {
		hec |= (b[10+j] & 1) << uint(7-j)
	}
	return Header{
		LTAddr: uint8(data & 0x7),
		Type:   PacketType((data >> 3) & 0xf),
		Flow:   data&(1<<7) != 0,
		ARQN:   data&(1<<8) != 0,
		SEQN:   data&(1<<9) != 0,
		HEC:    hec,
	}
}

// ParseHeader decodes the 54 header symbols that follow the access code.
// The header is dewhitened with clk and its HEC checked against uap.
func ParseHeader(symbols []byte, clk uint32, uap uint8) (Header, error) {
	if len(symbols) < SYMBOLS_PER_HEADER {
		return Header{}, fmt.Errorf("header needs %d symbols, have %d: %w", SYMBOLS_PER_HEADER, len(symbols), ErrInsufficientSymbols)
	}
	b := DecodeFEC13(symbols[:SYMBOLS_PER_HEADER])
	NewWhitener(clk).Apply(b)
	h := unpackHeader(b)
	if HEC(h.Data(), uap) != h.HEC {
		return h, ErrHECMismatch
	}
	return h, nil
}
