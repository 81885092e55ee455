package btbb

import (
	"errors"
	"fmt"
)

// ErrNotFHS is returned when FHS extraction is attempted on another packet type.
var ErrNotFHS = errors.New("packet is not a decoded FHS")

// FHS_PAYLOAD_BYTES is the size of the FHS payload without its CRC.
const FHS_PAYLOAD_BYTES = 18

// FHS holds the fields of a frequency hop synchronisation payload. Clock is
// CLK27..2 of the sender, so one unit is two native clock slots.
type FHS struct {
	Parity        uint64 `json:"parity"`
	LAP           uint32 `json:"lap"`
	EIR           bool   `json:"eir"`
	SR            uint8  `json:"sr"`
	SP            uint8  `json:"sp"`
	UAP           uint8  `json:"uap"`
	NAP           uint16 `json:"nap"`
	ClassOfDevice uint32 `json:"class_of_device"`
	LTAddr        uint8  `json:"lt_addr"`
	Clock         uint32 `json:"clock"`
	PageScanMode  uint8  `json:"page_scan_mode"`
}

// fhsFields lists field widths in transmit order.
var fhsFields = [...]int{34, 24, 1, 1, 2, 2, 8, 16, 24, 3, 26, 3}

// ExtractFHS parses an 18-byte FHS payload.
func ExtractFHS(payload []byte) (FHS, error) {
	if len(payload) < FHS_PAYLOAD_BYTES {
		return FHS{}, fmt.Errorf("fhs payload %d bytes, need %d: %w", len(payload), FHS_PAYLOAD_BYTES, ErrInsufficientSymbols)
	}
	bits := bytesToAir(payload[:FHS_PAYLOAD_BYTES])

	var v [len(fhsFields)]uint64
	pos := 0
	for i, width := range fhsFields {
		v[i] = airToHost(bits[pos : pos+width])
		pos += width
	}
	return FHS{
		Parity:        v[0],
		LAP:           uint32(v[1]),
		EIR:           v[2] == 1,
		SR:            uint8(v[4]),
		SP:            uint8(v[5]),
		UAP:           uint8(v[6]),
		NAP:           uint16(v[7]),
		ClassOfDevice: uint32(v[8]),
		LTAddr:        uint8(v[9]),
		Clock:         uint32(v[10]),
		PageScanMode:  uint8(v[11]),
	}, nil
}

// ExtractPacketFHS runs ExtractFHS on a decoded FHS packet.
func ExtractPacketFHS(p *Packet) (FHS, error) {
	if p.Status != StatusDecoded || p.Header.Type != TypeFHS {
		return FHS{}, ErrNotFHS
	}
	return ExtractFHS(p.Payload.Data)
}

// Bytes encodes the FHS fields back into an 18-byte payload.
func (f FHS) Bytes() []byte {
	eir := uint64(0)
	if f.EIR {
		eir = 1
	}
	v := [len(fhsFields)]uint64{
		f.Parity, uint64(f.LAP), eir, 0, uint64(f.SR), uint64(f.SP),
		uint64(f.UAP), uint64(f.NAP), uint64(f.ClassOfDevice),
		uint64(f.LTAddr), uint64(f.Clock), uint64(f.PageScanMode),
	}
	bits := make([]byte, 0, FHS_PAYLOAD_BYTES*8)
	for i, width := range fhsFields {
		bits = append(bits, hostToAir(v[i], width)...)
	}
	return airToBytes(bits)
}

// Offset returns the piconet clock offset implied by this FHS relative to the
// native clock clkn at which it was received. Master/slave role switches can
// leave up to one slot of error.
func (f FHS) Offset(clkn uint32) uint32 {
	clk := f.Clock << 1
	return (clk - clkn) & CLOCK_MASK
}
