package btbb

import "fmt"

// PacketType is the 4-bit TYPE field of a Basic Rate header. The meaning
// below is the SCO/ACL logical transport mapping.
type PacketType uint8

const (
	TypeNULL PacketType = 0
	TypePOLL PacketType = 1
	TypeFHS  PacketType = 2
	TypeDM1  PacketType = 3
	TypeDH1  PacketType = 4
	TypeHV1  PacketType = 5
	TypeHV2  PacketType = 6
	TypeHV3  PacketType = 7
	TypeDV   PacketType = 8
	TypeAUX1 PacketType = 9
	TypeDM3  PacketType = 10
	TypeDH3  PacketType = 11
	TypeDM5  PacketType = 14
	TypeDH5  PacketType = 15
)

var typeNames = [16]string{
	"NULL", "POLL", "FHS", "DM1", "DH1", "HV1", "HV2", "HV3",
	"DV", "AUX1", "DM3", "DH3", "EV4", "EV5", "DM5", "DH5",
}

func (t PacketType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

type fecRate int

const (
	fecNone fecRate = iota
	fecOneThird
	fecTwoThirds
)

// payloadFormat describes how a payload type is laid out on air.
type payloadFormat struct {
	fec        fecRate
	headerLen  int // payload header bytes, 0 for fixed-size payloads
	maxLength  int // maximum user bytes
	fixedBits  int // fixed payload size in bits when headerLen is 0
	hasCRC     bool
	voiceBits  int // DV only: unprotected voice field ahead of the data field
	defined    bool
	hasPayload bool
}

var payloadFormats = [16]payloadFormat{
	TypeNULL: {defined: true},
	TypePOLL: {defined: true},
	TypeFHS:  {fec: fecTwoThirds, fixedBits: 144, hasCRC: true, defined: true, hasPayload: true},
	TypeDM1:  {fec: fecTwoThirds, headerLen: 1, maxLength: 17, hasCRC: true, defined: true, hasPayload: true},
	TypeDH1:  {fec: fecNone, headerLen: 1, maxLength: 27, hasCRC: true, defined: true, hasPayload: true},
	TypeHV1:  {fec: fecOneThird, fixedBits: 80, defined: true, hasPayload: true},
	TypeHV2:  {fec: fecTwoThirds, fixedBits: 160, defined: true, hasPayload: true},
	TypeHV3:  {fec: fecNone, fixedBits: 240, defined: true, hasPayload: true},
	TypeDV:   {fec: fecTwoThirds, headerLen: 1, maxLength: 9, hasCRC: true, voiceBits: 80, defined: true, hasPayload: true},
	TypeAUX1: {fec: fecNone, headerLen: 1, maxLength: 29, defined: true, hasPayload: true},
	TypeDM3:  {fec: fecTwoThirds, headerLen: 2, maxLength: 121, hasCRC: true, defined: true, hasPayload: true},
	TypeDH3:  {fec: fecNone, headerLen: 2, maxLength: 183, hasCRC: true, defined: true, hasPayload: true},
	TypeDM5:  {fec: fecTwoThirds, headerLen: 2, maxLength: 224, hasCRC: true, defined: true, hasPayload: true},
	TypeDH5:  {fec: fecNone, headerLen: 2, maxLength: 339, hasCRC: true, defined: true, hasPayload: true},
}

// HasCRC reports whether the payload of t is protected by a CRC.
func (t PacketType) HasCRC() bool {
	return payloadFormats[t&0xf].hasCRC
}

// HasPayload reports whether t carries a payload at all.
func (t PacketType) HasPayload() bool {
	return payloadFormats[t&0xf].hasPayload
}

// Defined reports whether t has a payload layout this decoder understands.
func (t PacketType) Defined() bool {
	return payloadFormats[t&0xf].defined
}

// MaxLength returns the largest user payload, in bytes, for t.
func (t PacketType) MaxLength() int {
	f := payloadFormats[t&0xf]
	if f.headerLen == 0 {
		return f.fixedBits / 8
	}
	return f.maxLength
}
