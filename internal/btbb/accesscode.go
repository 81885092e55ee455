// Package btbb decodes Bluetooth Basic Rate baseband packets from a stream of
// demodulated symbols: access code correlation, header FEC/whitening/HEC,
// payload FEC and CRC, and FHS payload extraction.
package btbb

/*
BASIC RATE PACKET LAYOUT (symbols on air, LSB first)

├── Access code (72 symbols)
│   ├── Preamble (4) - alternating, ends opposite to the first sync word symbol
│   ├── Sync word (64) - BCH(64,30) codeword over the LAP and a 6-bit barker
│   │   └── LAP occupies sync word bits 34..57 (stream symbols 38..61)
│   └── Trailer (4) - alternating, starts opposite to the last sync word symbol
├── Header (54 symbols) - 18 bits, each repeated three times (FEC 1/3)
│   └── LT_ADDR(3) TYPE(4) FLOW(1) ARQN(1) SEQN(1) HEC(8)
└── Payload (0-2745 symbols) - layout depends on TYPE

ID packets carry only the shortened access code (68 symbols, no trailer).
*/

const (
	SYMBOLS_PER_PREAMBLE          = 4                                            // Preamble symbols before the sync word
	SYMBOLS_PER_SYNC_WORD         = 64                                           // Sync word symbols
	SYMBOLS_PER_SHORT_ACCESS_CODE = SYMBOLS_PER_PREAMBLE + SYMBOLS_PER_SYNC_WORD // 68, access code without trailer
	SYMBOLS_PER_ACCESS_CODE       = SYMBOLS_PER_SHORT_ACCESS_CODE + 4            // 72, access code with trailer
	SYMBOLS_PER_HEADER            = 54                                           // 18 header bits at FEC 1/3
	SYMBOLS_BEFORE_PAYLOAD        = SYMBOLS_PER_ACCESS_CODE + SYMBOLS_PER_HEADER // 126, offset of the first payload symbol
	SYMBOLS_PER_SLOT              = 625                                          // 1 Msym/s for 625 µs
	LAP_OFFSET                    = 38                                           // First LAP symbol within the access code
	BARKER_OFFSET                 = 61                                           // LAP MSB followed by the 6 barker symbols
	HEADER_BITS                   = 18                                           // Decoded header bits including HEC
	CLOCK_MASK                    = 0x7ffffff                                    // 27-bit piconet clock
	CLK6_MASK                     = 0x3f                                         // CLK1..6, seeds the whitening LFSR
)

// Reserved inquiry access codes. These are shared by every device and never
// belong to a piconet.
const (
	GIAC uint32 = 0x9E8B33 // General Inquiry Access Code
	LIAC uint32 = 0x9E8B00 // Limited Inquiry Access Code
)

// DCI is the default check initialisation used in place of a UAP for packets
// sent on an inquiry access code.
const DCI uint8 = 0x00

const (
	// pseudoNoise is the 64-bit PN sequence p0..p63 (bit i = p_i).
	pseudoNoise uint64 = 0x83848D96BBCC54FC
	// bchGenerator is g(D) for the (64,30) expurgated BCH code, octal 260534236651.
	bchGenerator uint64 = 0o260534236651

	barkerMSBSet   uint64 = 0x13 // appended when LAP bit 23 is 1
	barkerMSBClear uint64 = 0x2c // appended when LAP bit 23 is 0
)

// IsInquiryLAP reports whether lap is one of the reserved inquiry codes.
func IsInquiryLAP(lap uint32) bool {
	return lap == GIAC || lap == LIAC
}

// SyncWord returns the 64-bit sync word for a LAP. Bit i of the result is
// sync word symbol i.
func SyncWord(lap uint32) uint64 {
	info := uint64(lap & 0xffffff)
	if lap&0x800000 != 0 {
		info |= barkerMSBSet << 24
	} else {
		info |= barkerMSBClear << 24
	}

	scrambled := info ^ (pseudoNoise >> 34)
	rem := scrambled << 34
	for i := 63; i >= 34; i-- {
		if (rem>>uint(i))&1 == 1 {
			rem ^= bchGenerator << uint(i-34)
		}
	}
	return (scrambled<<34 | rem) ^ pseudoNoise
}

// AccessCode returns the full 72-symbol access code for lap.
func AccessCode(lap uint32) []byte {
	sw := SyncWord(lap)
	code := make([]byte, 0, SYMBOLS_PER_ACCESS_CODE)

	// Preamble alternates and its last symbol differs from sync word symbol 0.
	first := byte(sw & 1)
	for i := 0; i < SYMBOLS_PER_PREAMBLE; i++ {
		if (SYMBOLS_PER_PREAMBLE-i)%2 == 1 {
			code = append(code, first^1)
		} else {
			code = append(code, first)
		}
	}
	code = append(code, hostToAir(sw, SYMBOLS_PER_SYNC_WORD)...)

	last := byte(sw>>63) & 1
	for i := 0; i < 4; i++ {
		if i%2 == 0 {
			code = append(code, last^1)
		} else {
			code = append(code, last)
		}
	}
	return code
}

// ShortAccessCode returns the 68-symbol access code used by ID packets.
func ShortAccessCode(lap uint32) []byte {
	return AccessCode(lap)[:SYMBOLS_PER_SHORT_ACCESS_CODE]
}
