package btle

import (
	"fmt"
)

// PDUType is the advertising channel PDU type.
type PDUType uint8

const (
	ADV_IND         PDUType = 0x0
	ADV_DIRECT_IND  PDUType = 0x1
	ADV_NONCONN_IND PDUType = 0x2
	SCAN_REQ        PDUType = 0x3
	SCAN_RSP        PDUType = 0x4
	CONNECT_IND     PDUType = 0x5
	ADV_SCAN_IND    PDUType = 0x6
)

func (t PDUType) String() string {
	switch t {
	case ADV_IND:
		return "ADV_IND"
	case ADV_DIRECT_IND:
		return "ADV_DIRECT_IND"
	case ADV_NONCONN_IND:
		return "ADV_NONCONN_IND"
	case SCAN_REQ:
		return "SCAN_REQ"
	case SCAN_RSP:
		return "SCAN_RSP"
	case CONNECT_IND:
		return "CONNECT_IND"
	case ADV_SCAN_IND:
		return "ADV_SCAN_IND"
	}
	return fmt.Sprintf("PDU(%d)", uint8(t))
}

// Status mirrors the Basic Rate decode states.
type Status int

const (
	StatusHeaderOnly Status = iota
	StatusDecoded
	StatusCRCFailed
)

// Packet is a dewhitened link layer packet. For advertising packets the
// header is interpreted as PDU type, ChSel, TxAdd and RxAdd; for data
// channel packets as LLID, NESN, SN and MD.
type Packet struct {
	AccessAddress uint32 `json:"access_address"`
	Channel       int    `json:"channel"`
	CLKN          uint32 `json:"clkn"`
	Header        [2]byte
	Length        int    `json:"length"`
	Payload       []byte `json:"payload"`
	CRC           uint32 `json:"crc"`
	CRCOK         bool   `json:"crc_ok"`
	Status        Status `json:"status"`
}

// IsAdvertising reports whether the packet was sent on the advertising access
// address.
func (p *Packet) IsAdvertising() bool {
	return p.AccessAddress == AdvertisingAccessAddress
}

// PDUType returns the advertising PDU type (low 4 header bits).
func (p *Packet) PDUType() PDUType { return PDUType(p.Header[0] & 0x0f) }

// TxAdd reports whether the advertiser address is random.
func (p *Packet) TxAdd() bool { return p.Header[0]&0x40 != 0 }

// RxAdd reports whether the target address is random.
func (p *Packet) RxAdd() bool { return p.Header[0]&0x80 != 0 }

// LLID returns the data channel link layer identifier.
func (p *Packet) LLID() uint8 { return p.Header[0] & 0x03 }

// pdu returns the header and payload bytes covered by the CRC.
func (p *Packet) pdu() []byte {
	out := make([]byte, 0, headerBytes+len(p.Payload))
	out = append(out, p.Header[:]...)
	return append(out, p.Payload...)
}

// CheckCRC verifies the packet against crcInit and updates its status.
func (p *Packet) CheckCRC(crcInit uint32) bool {
	p.CRCOK = CRC24(p.pdu(), crcInit) == p.CRC
	if p.CRCOK {
		p.Status = StatusDecoded
	} else {
		p.Status = StatusCRCFailed
	}
	return p.CRCOK
}

// RecoverCRCInit returns the CRCInit implied by the received CRC.
func (p *Packet) RecoverCRCInit() uint32 {
	return ReverseCRC24(p.pdu(), p.CRC)
}

// ParsePacket decodes the symbols following the access address. When
// haveCRCInit is false the CRC cannot be verified and the packet keeps
// StatusHeaderOnly until CheckCRC is called.
func ParsePacket(symbols []byte, aa uint32, channel int, crcInit uint32, haveCRCInit bool) (*Packet, error) {
	if len(symbols) < headerBytes*8 {
		return nil, fmt.Errorf("le header: %w", ErrInsufficientSymbols)
	}
	hdr := symbolsToBytes(symbols[:headerBytes*8])
	Whiten(hdr, channel)
	length := int(hdr[1])

	total := headerBytes + length + crcBytes
	if len(symbols) < total*8 {
		return nil, fmt.Errorf("le pdu of %d bytes: %w", length, ErrInsufficientSymbols)
	}
	raw := symbolsToBytes(symbols[:total*8])
	Whiten(raw, channel)

	p := &Packet{
		AccessAddress: aa,
		Channel:       channel,
		Length:        length,
		Payload:       raw[headerBytes : headerBytes+length],
		CRC:           crcFromBytes(raw[headerBytes+length:]),
		Status:        StatusHeaderOnly,
	}
	copy(p.Header[:], raw[:headerBytes])
	if haveCRCInit && !p.CheckCRC(crcInit) {
		return p, ErrCRCMismatch
	}
	return p, nil
}

// Build returns the on-air symbols (preamble onward) for a PDU.
func Build(aa uint32, channel int, crcInit uint32, header [2]byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPDULength {
		return nil, fmt.Errorf("payload %d bytes exceeds %d", len(payload), maxPDULength)
	}
	header[1] = byte(len(payload))
	pdu := append(header[:], payload...)
	body := append(pdu, crcToBytes(CRC24(pdu, crcInit))...)
	Whiten(body, channel)

	out := bytesToSymbols([]byte{Preamble(aa)})
	out = append(out, bytesToSymbols([]byte{byte(aa), byte(aa >> 8), byte(aa >> 16), byte(aa >> 24)})...)
	return append(out, bytesToSymbols(body)...), nil
}

func (p *Packet) String() string {
	if p.IsAdvertising() {
		return fmt.Sprintf("LE %v AA=%08x ch=%d len=%d crc_ok=%v", p.PDUType(), p.AccessAddress, p.Channel, p.Length, p.CRCOK)
	}
	return fmt.Sprintf("LE data AA=%08x ch=%d llid=%d len=%d crc_ok=%v", p.AccessAddress, p.Channel, p.LLID(), p.Length, p.CRCOK)
}
