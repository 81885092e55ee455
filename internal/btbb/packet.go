package btbb

import (
	"encoding/binary"
	"fmt"
)

// Status describes how far a packet has been decoded.
type Status int

const (
	StatusHeaderOnly Status = iota // access code and raw header captured, not yet decoded
	StatusDecoded                  // header HEC and payload (CRC where present) verified
	StatusCRCFailed                // header or payload failed verification
)

func (s Status) String() string {
	switch s {
	case StatusHeaderOnly:
		return "header-only"
	case StatusDecoded:
		return "decoded"
	case StatusCRCFailed:
		return "crc-failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Packet is one Basic Rate packet captured after an access code hit. It owns a
// copy of the symbols that follow the access code so it can be decoded again
// later, for example when it is replayed from a discovery backlog.
type Packet struct {
	LAP     uint32 // lower address part from the sync word
	CLKN    uint32 // native clock (625 µs slots) when the packet was received
	Channel int    // RF channel index, MHz above 2402

	// Set by Decode.
	UAP       uint8
	Clock     uint32
	HaveCLK27 bool
	Header    Header
	Payload   Payload
	Status    Status

	symbols   []byte
	rawHeader []byte // 18 FEC-decoded header bits, still whitened
}

// NewPacket captures a packet that starts at symbols[0] with the first
// preamble symbol. When fewer than SYMBOLS_BEFORE_PAYLOAD symbols are
// available the packet is treated as an ID packet without a header.
func NewPacket(symbols []byte, lap, clkn uint32, channel int) *Packet {
	p := &Packet{
		LAP:     lap & 0xffffff,
		CLKN:    clkn & CLOCK_MASK,
		Channel: channel,
	}
	if len(symbols) >= SYMBOLS_BEFORE_PAYLOAD {
		body := symbols[SYMBOLS_PER_ACCESS_CODE:]
		p.symbols = make([]byte, len(body))
		copy(p.symbols, body)
		p.rawHeader = DecodeFEC13(p.symbols[:SYMBOLS_PER_HEADER])
	}
	return p
}

// HasHeader reports whether enough symbols followed the access code to hold a
// packet header.
func (p *Packet) HasHeader() bool {
	return p.rawHeader != nil
}

// headerAt dewhitens the captured header with clk.
func (p *Packet) headerAt(clk uint32) Header {
	b := make([]byte, HEADER_BITS)
	copy(b, p.rawHeader)
	NewWhitener(clk).Apply(b)
	return unpackHeader(b)
}

// UAPAt returns the UAP implied by the header HEC if the packet was whitened
// with clock clk. Every clock value yields exactly one candidate.
func (p *Packet) UAPAt(clk uint32) uint8 {
	h := p.headerAt(clk)
	return UAPFromHEC(h.Data(), h.HEC)
}

// TypeAt returns the header TYPE field dewhitened with clk.
func (p *Packet) TypeAt(clk uint32) PacketType {
	return p.headerAt(clk).Type
}

// decodeAt decodes the header and payload without touching the packet.
func (p *Packet) decodeAt(clk uint32, uap uint8) (Header, Payload, error) {
	if !p.HasHeader() {
		return Header{}, Payload{}, ErrInsufficientSymbols
	}
	w := NewWhitener(clk)
	b := make([]byte, HEADER_BITS)
	copy(b, p.rawHeader)
	w.Apply(b)
	h := unpackHeader(b)
	if HEC(h.Data(), uap) != h.HEC {
		return h, Payload{}, ErrHECMismatch
	}
	payload, err := decodePayload(p.symbols[SYMBOLS_PER_HEADER:], h.Type, uap, w)
	return h, payload, err
}

// PayloadCRCValidAt reports whether the header checks and the payload carries
// a CRC that verifies for clock clk and uap.
func (p *Packet) PayloadCRCValidAt(clk uint32, uap uint8) bool {
	h, payload, err := p.decodeAt(clk, uap)
	return err == nil && h.Type.HasCRC() && payload.CRCOK
}

// Decode decodes the packet with the full piconet clock and UAP. On success
// the status becomes StatusDecoded; any failure leaves StatusCRCFailed and
// the returned error says which stage failed.
func (p *Packet) Decode(clock uint32, uap uint8, haveCLK27 bool) error {
	h, payload, err := p.decodeAt(clock, uap)
	p.Clock = clock & CLOCK_MASK
	p.UAP = uap
	p.HaveCLK27 = haveCLK27
	p.Header = h
	p.Payload = payload
	if err != nil {
		p.Status = StatusCRCFailed
		return err
	}
	p.Status = StatusDecoded
	return nil
}

// Address returns the pseudo MAC used to deliver decoded traffic:
// NAP<<32 | UAP<<24 | LAP.
func (p *Packet) Address(nap uint16) uint64 {
	return uint64(nap)<<32 | uint64(p.UAP)<<24 | uint64(p.LAP)
}

// Block layout of the metadata that prefixes delivered frames.
const (
	TUN_CLOCK_OFFSET   = 0 // piconet clock, little endian uint32
	TUN_CHANNEL_OFFSET = 4 // RF channel index
	TUN_FLAGS_OFFSET   = 5 // bit 0: clock has CLK27, bit 1: payload present
	TUN_HEADER_OFFSET  = 6 // LT_ADDR | TYPE<<3
	TUN_HFLAGS_OFFSET  = 7 // FLOW | ARQN<<1 | SEQN<<2
	TUN_HEC_OFFSET     = 8 // received HEC
	TUN_META_SIZE      = 9
)

// TunFormat returns the 9-byte metadata block followed by the payload data.
func (p *Packet) TunFormat() []byte {
	out := make([]byte, TUN_META_SIZE, TUN_META_SIZE+len(p.Payload.Data))
	binary.LittleEndian.PutUint32(out[TUN_CLOCK_OFFSET:], p.Clock)
	out[TUN_CHANNEL_OFFSET] = byte(p.Channel)
	var flags byte
	if p.HaveCLK27 {
		flags |= 0x01
	}
	if p.Status == StatusDecoded && p.Header.Type.HasPayload() {
		flags |= 0x02
	}
	out[TUN_FLAGS_OFFSET] = flags
	out[TUN_HEADER_OFFSET] = uint8(p.Header.Data() & 0x7f)
	out[TUN_HFLAGS_OFFSET] = p.Header.Flags()
	out[TUN_HEC_OFFSET] = p.Header.HEC
	return append(out, p.Payload.Data...)
}

func (p *Packet) String() string {
	if !p.HasHeader() {
		return fmt.Sprintf("ID LAP=%06x clkn=%d ch=%d", p.LAP, p.CLKN, p.Channel)
	}
	return fmt.Sprintf("%v LAP=%06x UAP=%02x clk=%d ch=%d lt=%d len=%d %v",
		p.Header.Type, p.LAP, p.UAP, p.Clock, p.Channel, p.Header.LTAddr, p.Payload.Length, p.Status)
}
