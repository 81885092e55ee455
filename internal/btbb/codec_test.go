package btbb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHECRoundTrip(t *testing.T) {
	for _, uap := range []uint8{0x00, 0x47, 0x6b, 0xff} {
		for data := uint16(0); data < 1024; data++ {
			hec := HEC(data, uap)
			require.Equal(t, uap, UAPFromHEC(data, hec), "data %03x uap %02x", data, uap)
		}
	}
	assert.Equal(t, uint8(0xa5), HEC(0x3f5, 0x47))
	assert.Equal(t, uint8(0x00), HEC(0, 0))
}

func TestHECRejectsOtherUAPs(t *testing.T) {
	const data = 0x1b3
	want := HEC(data, 0x6b)
	for uap := 0; uap < 256; uap++ {
		if uint8(uap) == 0x6b {
			continue
		}
		assert.NotEqual(t, want, HEC(data, uint8(uap)), "uap %02x collides", uap)
	}
}

func TestWhitener(t *testing.T) {
	w := NewWhitener(0)
	got := make([]byte, 18)
	w.Apply(got)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 1, 1, 0, 0}, got)

	// Whitening is an involution over any prefix.
	data := []byte{1, 1, 0, 1, 0, 0, 1, 0, 1, 1}
	orig := append([]byte(nil), data...)
	NewWhitener(0x2a).Apply(data)
	assert.NotEqual(t, orig, data)
	NewWhitener(0x2a).Apply(data)
	assert.Equal(t, orig, data)

	// Only CLK1..6 seed the register.
	a, b := NewWhitener(0x12a), NewWhitener(0x2a)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestWhitenerPeriod(t *testing.T) {
	w := NewWhitener(0x15)
	start := w.reg
	period := 0
	for {
		w.Next()
		period++
		if w.reg == start {
			break
		}
		require.Less(t, period, 200)
	}
	assert.Equal(t, 127, period)
}

func TestFEC13(t *testing.T) {
	bits := []byte{1, 0, 1, 1, 0}
	enc := EncodeFEC13(bits)
	require.Len(t, enc, 15)
	enc[0] ^= 1 // one flip per triplet is corrected
	enc[4] ^= 1
	enc[14] ^= 1
	assert.Equal(t, bits, DecodeFEC13(enc))
}

func TestFEC23CorrectsSingleErrors(t *testing.T) {
	data := []byte{1, 0, 0, 1, 1, 1, 0, 1, 0, 1}
	enc := EncodeFEC23(data)
	require.Len(t, enc, 15)

	got, err := DecodeFEC23(enc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	for pos := 0; pos < 15; pos++ {
		block := append([]byte(nil), enc...)
		block[pos] ^= 1
		got, err := DecodeFEC23Block(block)
		require.NoErrorf(t, err, "flip at %d", pos)
		assert.Equalf(t, data, got, "flip at %d", pos)
	}
}

func TestFEC23DetectsDoubleErrors(t *testing.T) {
	enc := EncodeFEC23([]byte{0, 1, 1, 0, 1, 0, 0, 0, 1, 1})
	for a := 0; a < 15; a++ {
		for b := a + 1; b < 15; b++ {
			block := append([]byte(nil), enc...)
			block[a] ^= 1
			block[b] ^= 1
			_, err := DecodeFEC23Block(block)
			assert.ErrorIsf(t, err, ErrFECUncorrectable, "flips at %d,%d", a, b)
		}
	}
}

func TestFEC23Padding(t *testing.T) {
	enc := EncodeFEC23([]byte{1, 1, 1})
	require.Len(t, enc, 15)
	got, err := DecodeFEC23(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 0, 0, 0, 0, 0, 0, 0}, got)
	assert.Equal(t, []byte{0, 1, 0, 1, 1}, enc[10:15])
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xe200), CRC16(nil, 0x47))
	assert.Equal(t, uint16(0x258c), CRC16(bytesToAir([]byte{0x01, 0x02}), 0x47))

	crc := uint16(0xbeef)
	assert.Equal(t, crc, crcFromAir(crcToAir(crc)))
}

func TestParseHeader(t *testing.T) {
	h := Header{LTAddr: 5, Type: TypeDH1, Flow: true, SEQN: true}
	const (
		uap = 0x6b
		clk = 0x2a
	)
	bits := h.Bits(uap)
	NewWhitener(clk).Apply(bits)
	symbols := EncodeFEC13(bits)

	got, err := ParseHeader(symbols, clk, uap)
	require.NoError(t, err)
	h.HEC = HEC(h.Data(), uap)
	assert.Equal(t, h, got)

	_, err = ParseHeader(symbols, clk, uap^0x01)
	assert.ErrorIs(t, err, ErrHECMismatch)

	_, err = ParseHeader(symbols[:40], clk, uap)
	assert.ErrorIs(t, err, ErrInsufficientSymbols)
}

func TestHeaderFlags(t *testing.T) {
	h := Header{LTAddr: 1, Type: TypeDM1, Flow: true, ARQN: false, SEQN: true}
	assert.Equal(t, uint16(1|3<<3|1<<7|1<<9), h.Data())
	assert.Equal(t, uint8(0x5), h.Flags())
}

func TestPacketTypeTable(t *testing.T) {
	assert.Equal(t, "DH5", TypeDH5.String())
	assert.False(t, PacketType(12).Defined())
	assert.False(t, PacketType(13).Defined())
	assert.True(t, TypeFHS.HasCRC())
	assert.False(t, TypeHV3.HasCRC())
	assert.False(t, TypePOLL.HasPayload())
	assert.Equal(t, 339, TypeDH5.MaxLength())
	assert.Equal(t, 18, TypeFHS.MaxLength())
	assert.Equal(t, 10, TypeHV1.MaxLength())
}
