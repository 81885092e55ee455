// Package btle decodes Bluetooth Low Energy link layer packets from
// demodulated symbols.
package btle

import (
	"errors"
	"math/bits"
)

const (
	AdvertisingAccessAddress uint32 = 0x8E89BED6
	AdvertisingCRCInit       uint32 = 0x555555

	SymbolsPerPreambleAA = 40 // 8-bit preamble + 32-bit access address
	headerBytes          = 2
	crcBytes             = 3
	maxPDULength         = 255
)

var (
	ErrCRCMismatch         = errors.New("le crc mismatch")
	ErrInsufficientSymbols = errors.New("insufficient symbols")
	ErrInvalidChannel      = errors.New("frequency is not an le channel")
	ErrShortPDU            = errors.New("pdu too short")
)

// Preamble returns the preamble byte for an access address. It alternates
// and matches the first access address bit.
func Preamble(aa uint32) byte {
	if aa&1 == 1 {
		return 0x55
	}
	return 0xAA
}

// ChannelIndex maps a centre frequency in MHz to the link layer channel index.
func ChannelIndex(freqMHz int) (int, error) {
	switch {
	case freqMHz == 2402:
		return 37, nil
	case freqMHz == 2426:
		return 38, nil
	case freqMHz == 2480:
		return 39, nil
	case freqMHz >= 2404 && freqMHz <= 2424 && freqMHz%2 == 0:
		return (freqMHz - 2404) / 2, nil
	case freqMHz >= 2428 && freqMHz <= 2478 && freqMHz%2 == 0:
		return (freqMHz-2428)/2 + 11, nil
	}
	return 0, ErrInvalidChannel
}

// Whiten applies the channel whitening sequence to data in place. The LFSR is
// x^7 + x^4 + 1 seeded with the channel index; bytes are processed LSB first.
func Whiten(data []byte, channel int) {
	coeff := bits.Reverse8(uint8(channel)) | 2
	for i := range data {
		for m := uint8(1); m != 0; m <<= 1 {
			if coeff&0x80 != 0 {
				coeff ^= 0x11
				data[i] ^= m
			}
			coeff <<= 1
		}
	}
}

// crcPoly holds the low taps of x^24 + x^10 + x^9 + x^6 + x^4 + x^3 + x + 1.
const crcPoly uint32 = 0x00065B

// CRC24 computes the link layer CRC over data, bytes LSB first.
func CRC24(data []byte, init uint32) uint32 {
	r := init & 0xffffff
	for _, b := range data {
		for j := 0; j < 8; j++ {
			bit := uint32(b>>uint(j)) & 1
			t := r >> 23
			r = (r << 1) & 0xffffff
			if t != bit {
				r ^= crcPoly
			}
		}
	}
	return r
}

// ReverseCRC24 runs the CRC register backwards over data from a received CRC
// and returns the CRCInit that would have produced it.
func ReverseCRC24(data []byte, crc uint32) uint32 {
	r := crc & 0xffffff
	for i := len(data)*8 - 1; i >= 0; i-- {
		d := uint32(data[i/8]>>uint(i%8)) & 1
		var t uint32
		if r&1 == 1 {
			t = d ^ 1
			r = ((r ^ crcPoly) >> 1) | t<<23
		} else {
			t = d
			r = (r >> 1) | t<<23
		}
	}
	return r
}

// crcToBytes lays the CRC out for transmission: register bit 23 first.
func crcToBytes(crc uint32) []byte {
	v := bits.Reverse32(crc<<8)
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func crcFromBytes(b []byte) uint32 {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return bits.Reverse32(v) >> 8
}
