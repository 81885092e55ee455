// Package source reads demodulated slots from the radio front end over UDP,
// a serial link or a pcap capture of the UDP stream.
package source

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/btsniff/internal/sniffer"
)

// Slot frame layout, all integers big endian:
//
//	magic "BTSL" | version u8 | flags u8 | sps u16 | centre kHz u32 | n u32 | n samples
const (
	FrameVersion    = 1
	frameHeaderSize = 16
	// MaxFrameSamples keeps a frame inside one UDP datagram. A 2 Msps
	// front end produces 1250 samples per slot plus history.
	MaxFrameSamples = 60000
)

var frameMagic = [4]byte{'B', 'T', 'S', 'L'}

var (
	ErrBadMagic   = errors.New("slot frame: bad magic")
	ErrVersion    = errors.New("slot frame: unsupported version")
	ErrShortFrame = errors.New("slot frame: truncated")
	ErrTooLarge   = errors.New("slot frame: too many samples")
)

// EncodeSlot serialises a slot into a frame.
func EncodeSlot(slot sniffer.Slot) ([]byte, error) {
	if len(slot.Samples) > MaxFrameSamples {
		return nil, fmt.Errorf("%d samples: %w", len(slot.Samples), ErrTooLarge)
	}
	b := make([]byte, frameHeaderSize+len(slot.Samples))
	copy(b[0:4], frameMagic[:])
	b[4] = FrameVersion
	binary.BigEndian.PutUint16(b[6:8], uint16(slot.SamplesPerSymbol))
	binary.BigEndian.PutUint32(b[8:12], uint32(slot.CenterFreqMHz)*1000)
	binary.BigEndian.PutUint32(b[12:16], uint32(len(slot.Samples)))
	copy(b[frameHeaderSize:], slot.Samples)
	return b, nil
}

// DecodeSlot parses a frame. The returned samples are a copy, so b may be
// reused by the caller.
func DecodeSlot(b []byte) (sniffer.Slot, error) {
	if len(b) < frameHeaderSize {
		return sniffer.Slot{}, fmt.Errorf("%d bytes: %w", len(b), ErrShortFrame)
	}
	if [4]byte(b[0:4]) != frameMagic {
		return sniffer.Slot{}, ErrBadMagic
	}
	if b[4] != FrameVersion {
		return sniffer.Slot{}, fmt.Errorf("version %d: %w", b[4], ErrVersion)
	}
	n := binary.BigEndian.Uint32(b[12:16])
	if n > MaxFrameSamples {
		return sniffer.Slot{}, fmt.Errorf("%d samples: %w", n, ErrTooLarge)
	}
	if len(b) < frameHeaderSize+int(n) {
		return sniffer.Slot{}, fmt.Errorf("need %d samples, have %d: %w", n, len(b)-frameHeaderSize, ErrShortFrame)
	}
	samples := make([]byte, n)
	copy(samples, b[frameHeaderSize:])
	return sniffer.Slot{
		Samples:          samples,
		SamplesPerSymbol: int(binary.BigEndian.Uint16(b[6:8])),
		CenterFreqMHz:    int(binary.BigEndian.Uint32(b[8:12]) / 1000),
	}, nil
}

// FrameSize returns the total size of the frame starting at b, once the
// header is available.
func FrameSize(header []byte) (int, error) {
	if len(header) < frameHeaderSize {
		return 0, ErrShortFrame
	}
	if [4]byte(header[0:4]) != frameMagic {
		return 0, ErrBadMagic
	}
	n := binary.BigEndian.Uint32(header[12:16])
	if n > MaxFrameSamples {
		return 0, fmt.Errorf("%d samples: %w", n, ErrTooLarge)
	}
	return frameHeaderSize + int(n), nil
}
