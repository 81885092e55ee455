package btle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Advertising data types used when summarising advertisements.
const (
	ADFlags            = 0x01
	ADSomeUUID16       = 0x02
	ADAllUUID16        = 0x03
	ADShortName        = 0x08
	ADCompleteName     = 0x09
	ADTxPower          = 0x0A
	ADManufacturerData = 0xFF
)

var ErrNotAdvertising = errors.New("not an advertising pdu with an advertiser address")

// Address is a 48-bit device address in transmit (little endian) order.
type Address [6]byte

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[5], a[4], a[3], a[2], a[1], a[0])
}

// ADStructures is the advertising data carried after AdvA.
type ADStructures []byte

// Field returns the data of the first AD structure of type typ, without its
// length and type bytes. It returns nil when the field is absent or the data
// is malformed.
func (d ADStructures) Field(typ byte) []byte {
	b := d
	for len(b) >= 2 {
		l := int(b[0])
		if l == 0 || len(b) < 1+l {
			return nil
		}
		if b[1] == typ {
			return b[2 : 1+l]
		}
		b = b[1+l:]
	}
	return nil
}

// Flags returns the LE flags field.
func (d ADStructures) Flags() (byte, bool) {
	b := d.Field(ADFlags)
	if len(b) < 1 {
		return 0, false
	}
	return b[0], true
}

// LocalName returns the complete name, falling back to the shortened one.
func (d ADStructures) LocalName() string {
	if b := d.Field(ADCompleteName); b != nil {
		return string(b)
	}
	return string(d.Field(ADShortName))
}

// TxPower returns the advertised transmit power in dBm.
func (d ADStructures) TxPower() (int, bool) {
	b := d.Field(ADTxPower)
	if len(b) < 1 {
		return 0, false
	}
	return int(int8(b[0])), true
}

// UUID16s returns every 16-bit service UUID listed, complete or partial.
func (d ADStructures) UUID16s() []uint16 {
	var out []uint16
	for _, typ := range []byte{ADSomeUUID16, ADAllUUID16} {
		b := d.Field(typ)
		for len(b) >= 2 {
			out = append(out, binary.LittleEndian.Uint16(b))
			b = b[2:]
		}
	}
	return out
}

// ManufacturerData returns the raw manufacturer specific data including the
// company identifier.
func (d ADStructures) ManufacturerData() []byte {
	return d.Field(ADManufacturerData)
}

// AppendField adds an AD structure.
func (d ADStructures) AppendField(typ byte, b []byte) ADStructures {
	d = append(d, byte(len(b)+1), typ)
	return append(d, b...)
}

// Advertisement summarises an advertising PDU.
type Advertisement struct {
	Type     PDUType      `json:"type"`
	AdvA     Address      `json:"adv_a"`
	Random   bool         `json:"random"`
	TargetA  *Address     `json:"target_a,omitempty"`
	Data     ADStructures `json:"data,omitempty"`
	Name     string       `json:"name,omitempty"`
	TxPower  *int         `json:"tx_power,omitempty"`
	Services []uint16     `json:"services,omitempty"`
}

// Advertisement parses ADV_IND, ADV_DIRECT_IND, ADV_NONCONN_IND, SCAN_RSP and
// ADV_SCAN_IND payloads.
func (p *Packet) Advertisement() (Advertisement, error) {
	if !p.IsAdvertising() {
		return Advertisement{}, ErrNotAdvertising
	}
	t := p.PDUType()
	switch t {
	case ADV_IND, ADV_DIRECT_IND, ADV_NONCONN_IND, SCAN_RSP, ADV_SCAN_IND:
	default:
		return Advertisement{}, ErrNotAdvertising
	}
	if len(p.Payload) < 6 {
		return Advertisement{}, fmt.Errorf("%v: %w", t, ErrShortPDU)
	}

	adv := Advertisement{Type: t, Random: p.TxAdd()}
	copy(adv.AdvA[:], p.Payload[:6])
	rest := p.Payload[6:]

	if t == ADV_DIRECT_IND {
		if len(rest) < 6 {
			return adv, fmt.Errorf("%v: %w", t, ErrShortPDU)
		}
		var target Address
		copy(target[:], rest[:6])
		adv.TargetA = &target
		return adv, nil
	}

	adv.Data = ADStructures(append([]byte(nil), rest...))
	adv.Name = adv.Data.LocalName()
	if pwr, ok := adv.Data.TxPower(); ok {
		adv.TxPower = &pwr
	}
	adv.Services = adv.Data.UUID16s()
	return adv, nil
}

// ConnectInd holds the fields of a CONNECT_IND PDU.
type ConnectInd struct {
	InitA         Address `json:"init_a"`
	AdvA          Address `json:"adv_a"`
	AccessAddress uint32  `json:"access_address"`
	CRCInit       uint32  `json:"crc_init"`
	WinSize       uint8   `json:"win_size"`
	WinOffset     uint16  `json:"win_offset"`
	Interval      uint16  `json:"interval"`
	Latency       uint16  `json:"latency"`
	Timeout       uint16  `json:"timeout"`
	ChannelMap    [5]byte `json:"channel_map"`
	Hop           uint8   `json:"hop"`
	SCA           uint8   `json:"sca"`
}

const connectIndLength = 34

// ConnectInd parses a CONNECT_IND payload.
func (p *Packet) ConnectInd() (ConnectInd, error) {
	if !p.IsAdvertising() || p.PDUType() != CONNECT_IND {
		return ConnectInd{}, ErrNotAdvertising
	}
	b := p.Payload
	if len(b) < connectIndLength {
		return ConnectInd{}, fmt.Errorf("CONNECT_IND: %w", ErrShortPDU)
	}
	var c ConnectInd
	copy(c.InitA[:], b[0:6])
	copy(c.AdvA[:], b[6:12])
	c.AccessAddress = binary.LittleEndian.Uint32(b[12:16])
	c.CRCInit = uint32(b[16]) | uint32(b[17])<<8 | uint32(b[18])<<16
	c.WinSize = b[19]
	c.WinOffset = binary.LittleEndian.Uint16(b[20:22])
	c.Interval = binary.LittleEndian.Uint16(b[22:24])
	c.Latency = binary.LittleEndian.Uint16(b[24:26])
	c.Timeout = binary.LittleEndian.Uint16(b[26:28])
	copy(c.ChannelMap[:], b[28:33])
	c.Hop = b[33] & 0x1f
	c.SCA = b[33] >> 5
	return c, nil
}

// Bytes encodes the CONNECT_IND payload.
func (c ConnectInd) Bytes() []byte {
	b := make([]byte, connectIndLength)
	copy(b[0:6], c.InitA[:])
	copy(b[6:12], c.AdvA[:])
	binary.LittleEndian.PutUint32(b[12:16], c.AccessAddress)
	b[16], b[17], b[18] = byte(c.CRCInit), byte(c.CRCInit>>8), byte(c.CRCInit>>16)
	b[19] = c.WinSize
	binary.LittleEndian.PutUint16(b[20:22], c.WinOffset)
	binary.LittleEndian.PutUint16(b[22:24], c.Interval)
	binary.LittleEndian.PutUint16(b[24:26], c.Latency)
	binary.LittleEndian.PutUint16(b[26:28], c.Timeout)
	copy(b[28:33], c.ChannelMap[:])
	b[33] = c.Hop&0x1f | c.SCA<<5
	return b
}
