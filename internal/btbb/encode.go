package btbb

import "fmt"

// PacketSpec describes a packet for Build.
type PacketSpec struct {
	LAP    uint32
	UAP    uint8
	Clock  uint32 // piconet clock; CLK1..6 seed whitening
	Header Header // HEC is computed, the field is ignored
	LLID   uint8
	Flow   bool   // payload header FLOW bit
	Data   []byte // user payload; FHS takes an 18-byte FHS.Bytes()
	Voice  []byte // DV voice field, 10 bytes
}

type segment struct {
	bits []byte
	fec  fecRate
}

// Build produces the on-air symbols for a packet: access code, header and
// payload with whitening, FEC and CRC applied. It is the transmit-side
// inverse of Packet.Decode and is used for synthetic captures.
func Build(spec PacketSpec) ([]byte, error) {
	t := spec.Header.Type & 0xf
	f := payloadFormats[t]
	if !f.defined {
		return nil, fmt.Errorf("%v: %w", t, ErrUndefinedType)
	}

	segs := []segment{{bits: spec.Header.Bits(spec.UAP), fec: fecOneThird}}

	if f.hasPayload {
		if f.voiceBits > 0 {
			voice := make([]byte, f.voiceBits/8)
			copy(voice, spec.Voice)
			segs = append(segs, segment{bits: bytesToAir(voice), fec: fecNone})
		}

		var body []byte
		if f.headerLen == 0 {
			data := make([]byte, f.fixedBits/8)
			copy(data, spec.Data)
			body = bytesToAir(data)
		} else {
			if len(spec.Data) > f.maxLength {
				return nil, fmt.Errorf("%v length %d > %d: %w", t, len(spec.Data), f.maxLength, ErrPayloadLength)
			}
			body = hostToAir(uint64(spec.LLID&0x3), 2)
			if spec.Flow {
				body = append(body, 1)
			} else {
				body = append(body, 0)
			}
			if f.headerLen == 1 {
				body = append(body, hostToAir(uint64(len(spec.Data)), 5)...)
			} else {
				body = append(body, hostToAir(uint64(len(spec.Data)), 10)...)
				body = append(body, 0, 0, 0)
			}
			body = append(body, bytesToAir(spec.Data)...)
		}
		if f.hasCRC {
			body = append(body, crcToAir(CRC16(body, spec.UAP))...)
		}
		segs = append(segs, segment{bits: body, fec: f.fec})
	}

	out := AccessCode(spec.LAP)
	w := NewWhitener(spec.Clock)
	for _, s := range segs {
		b := make([]byte, len(s.bits))
		copy(b, s.bits)
		w.Apply(b)
		switch s.fec {
		case fecNone:
			out = append(out, b...)
		case fecOneThird:
			out = append(out, EncodeFEC13(b)...)
		case fecTwoThirds:
			out = append(out, EncodeFEC23(b)...)
		}
	}
	return out, nil
}

// BuildID returns the symbols of an ID packet for lap.
func BuildID(lap uint32) []byte {
	return ShortAccessCode(lap)
}
