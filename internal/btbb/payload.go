package btbb

import (
	"errors"
	"fmt"
)

var (
	// ErrCRCMismatch means a payload CRC did not verify.
	ErrCRCMismatch = errors.New("payload CRC mismatch")
	// ErrUndefinedType is returned for TYPE codes without a known layout.
	ErrUndefinedType = errors.New("undefined packet type")
	// ErrPayloadLength is returned when a payload header announces more bytes
	// than the packet type can carry.
	ErrPayloadLength = errors.New("payload length exceeds packet type maximum")
)

// Payload is the decoded user data of a Basic Rate packet.
type Payload struct {
	LLID   uint8  `json:"llid"`
	Flow   bool   `json:"flow"`
	Length int    `json:"length"`
	Data   []byte `json:"data"`
	Voice  []byte `json:"voice,omitempty"` // DV packets only
	CRC    uint16 `json:"crc"`
	CRCOK  bool   `json:"crc_ok"`
}

// payloadReader pulls dewhitened information bits out of the payload
// symbols, undoing FEC block by block.
type payloadReader struct {
	symbols []byte
	pos     int
	fec     fecRate
	w       *Whitener
	pending []byte
}

func (r *payloadReader) fill(n int) error {
	for len(r.pending) < n {
		var bits []byte
		switch r.fec {
		case fecNone:
			if r.pos >= len(r.symbols) {
				return ErrInsufficientSymbols
			}
			bits = []byte{r.symbols[r.pos] & 1}
			r.pos++
		case fecOneThird:
			if r.pos+3 > len(r.symbols) {
				return ErrInsufficientSymbols
			}
			bits = DecodeFEC13(r.symbols[r.pos : r.pos+3])
			r.pos += 3
		case fecTwoThirds:
			if r.pos+fec23Block > len(r.symbols) {
				return ErrInsufficientSymbols
			}
			var err error
			bits, err = DecodeFEC23Block(r.symbols[r.pos : r.pos+fec23Block])
			if err != nil {
				return err
			}
			r.pos += fec23Block
		}
		r.w.Apply(bits)
		r.pending = append(r.pending, bits...)
	}
	return nil
}

// read returns the next n information bits.
func (r *payloadReader) read(n int) ([]byte, error) {
	if err := r.fill(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.pending[:n])
	r.pending = r.pending[n:]
	return out, nil
}

// switchFEC changes the code rate. Any partially consumed 2/3 block is
// discarded along with its padding.
func (r *payloadReader) switchFEC(f fecRate) {
	r.fec = f
	r.pending = nil
}

// decodePayload decodes the payload symbols for header type t. w must already
// have been advanced past the 18 header bits.
func decodePayload(symbols []byte, t PacketType, uap uint8, w *Whitener) (Payload, error) {
	f := payloadFormats[t&0xf]
	if !f.defined {
		return Payload{}, fmt.Errorf("%v: %w", t, ErrUndefinedType)
	}
	if !f.hasPayload {
		return Payload{CRCOK: true}, nil
	}

	r := &payloadReader{symbols: symbols, fec: f.fec, w: w}
	var p Payload

	if f.voiceBits > 0 {
		r.fec = fecNone
		voice, err := r.read(f.voiceBits)
		if err != nil {
			return p, fmt.Errorf("%v voice field: %w", t, err)
		}
		p.Voice = airToBytes(voice)
		r.switchFEC(f.fec)
	}

	var covered []byte
	if f.headerLen == 0 {
		body, err := r.read(f.fixedBits)
		if err != nil {
			return p, fmt.Errorf("%v payload: %w", t, err)
		}
		covered = body
		p.Data = airToBytes(body)
		p.Length = len(p.Data)
	} else {
		hdr, err := r.read(f.headerLen * 8)
		if err != nil {
			return p, fmt.Errorf("%v payload header: %w", t, err)
		}
		p.LLID = uint8(airToHost(hdr[0:2]))
		p.Flow = hdr[2] == 1
		if f.headerLen == 1 {
			p.Length = int(airToHost(hdr[3:8]))
		} else {
			p.Length = int(airToHost(hdr[3:13]))
		}
		if p.Length > f.maxLength {
			return p, fmt.Errorf("%v length %d > %d: %w", t, p.Length, f.maxLength, ErrPayloadLength)
		}
		body, err := r.read(p.Length * 8)
		if err != nil {
			return p, fmt.Errorf("%v payload body: %w", t, err)
		}
		covered = append(hdr, body...)
		p.Data = airToBytes(body)
	}

	if !f.hasCRC {
		p.CRCOK = true
		return p, nil
	}

	crcBits, err := r.read(16)
	if err != nil {
		return p, fmt.Errorf("%v crc: %w", t, err)
	}
	p.CRC = crcFromAir(crcBits)
	if CRC16(covered, uap) != p.CRC {
		return p, ErrCRCMismatch
	}
	p.CRCOK = true
	return p, nil
}
