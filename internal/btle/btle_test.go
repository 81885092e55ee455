package btle

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitenKnownSequence(t *testing.T) {
	data := make([]byte, 4)
	Whiten(data, 37)
	assert.Equal(t, []byte{0x8d, 0xd2, 0x57, 0xa1}, data)

	Whiten(data, 37)
	assert.Equal(t, []byte{0, 0, 0, 0}, data, "whitening twice restores the input")
}

func TestChannelIndex(t *testing.T) {
	tests := []struct {
		freq    int
		want    int
		wantErr bool
	}{
		{2402, 37, false},
		{2426, 38, false},
		{2480, 39, false},
		{2404, 0, false},
		{2424, 10, false},
		{2428, 11, false},
		{2478, 36, false},
		{2403, 0, true},
		{2500, 0, true},
	}
	for _, tt := range tests {
		got, err := ChannelIndex(tt.freq)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidChannel, "freq %d", tt.freq)
			continue
		}
		require.NoError(t, err, "freq %d", tt.freq)
		assert.Equal(t, tt.want, got, "freq %d", tt.freq)
	}
}

func TestCRC24(t *testing.T) {
	assert.Equal(t, AdvertisingCRCInit, CRC24(nil, AdvertisingCRCInit))
	assert.Equal(t, uint32(0xb32e6e), CRC24([]byte{0x00, 0x06, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, AdvertisingCRCInit))

	crc := uint32(0xabcdef)
	assert.Equal(t, crc, crcFromBytes(crcToBytes(crc)))
}

func TestReverseCRC24(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 8))
	for i := 0; i < 100; i++ {
		data := make([]byte, 2+r.IntN(38))
		for j := range data {
			data[j] = byte(r.Uint32())
		}
		seed := r.Uint32() & 0xffffff
		require.Equal(t, seed, ReverseCRC24(data, CRC24(data, seed)))
	}
}

func TestPreamble(t *testing.T) {
	assert.Equal(t, byte(0xAA), Preamble(AdvertisingAccessAddress))
	assert.Equal(t, byte(0x55), Preamble(0x12345679))
}

func TestScannerAndParse(t *testing.T) {
	payload := ADStructures(nil).
		AppendField(ADFlags, []byte{0x06}).
		AppendField(ADCompleteName, []byte("sensor")).
		AppendField(ADTxPower, []byte{0xf4})
	advA := []byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	pdu := append(append([]byte(nil), advA...), payload...)

	air, err := Build(AdvertisingAccessAddress, 37, AdvertisingCRCInit, [2]byte{byte(ADV_IND) | 0x40}, pdu)
	require.NoError(t, err)

	stream := append(make([]byte, 13), air...)
	stream = append(stream, make([]byte, 32)...)

	hit, ok := NewScanner(0).Find(stream, len(stream))
	require.True(t, ok)
	assert.Equal(t, 13, hit.Position)
	assert.Equal(t, AdvertisingAccessAddress, hit.AccessAddress)

	p, err := ParsePacket(stream[hit.Position+SymbolsPerPreambleAA:], hit.AccessAddress, 37, AdvertisingCRCInit, true)
	require.NoError(t, err)
	assert.True(t, p.CRCOK)
	assert.Equal(t, StatusDecoded, p.Status)
	assert.Equal(t, ADV_IND, p.PDUType())
	assert.Equal(t, len(pdu), p.Length)

	adv, err := p.Advertisement()
	require.NoError(t, err)
	assert.Equal(t, "11:22:33:44:55:66", adv.AdvA.String())
	assert.True(t, adv.Random)
	assert.Equal(t, "sensor", adv.Name)
	require.NotNil(t, adv.TxPower)
	assert.Equal(t, -12, *adv.TxPower)
	flags, ok := adv.Data.Flags()
	assert.True(t, ok)
	assert.Equal(t, byte(0x06), flags)

	_, err = ParsePacket(stream[hit.Position+SymbolsPerPreambleAA:], hit.AccessAddress, 38, AdvertisingCRCInit, true)
	assert.Error(t, err, "wrong channel must not verify")
}

func TestParsePacketShort(t *testing.T) {
	_, err := ParsePacket(make([]byte, 10), AdvertisingAccessAddress, 37, AdvertisingCRCInit, true)
	assert.ErrorIs(t, err, ErrInsufficientSymbols)
}

func TestConnectIndRoundTrip(t *testing.T) {
	want := ConnectInd{
		InitA:         Address{1, 2, 3, 4, 5, 6},
		AdvA:          Address{6, 5, 4, 3, 2, 1},
		AccessAddress: 0x50654c12,
		CRCInit:       0x7a1b2c,
		WinSize:       2,
		WinOffset:     5,
		Interval:      24,
		Latency:       0,
		Timeout:       400,
		ChannelMap:    [5]byte{0xff, 0xff, 0xff, 0xff, 0x1f},
		Hop:           11,
		SCA:           5,
	}
	air, err := Build(AdvertisingAccessAddress, 38, AdvertisingCRCInit, [2]byte{byte(CONNECT_IND)}, want.Bytes())
	require.NoError(t, err)

	p, err := ParsePacket(air[SymbolsPerPreambleAA:], AdvertisingAccessAddress, 38, AdvertisingCRCInit, true)
	require.NoError(t, err)
	got, err := p.ConnectInd()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = p.Advertisement()
	assert.ErrorIs(t, err, ErrNotAdvertising)
}

func TestParseWithoutCRCInit(t *testing.T) {
	const (
		aa      = 0x50654c12
		crcInit = 0x7a1b2c
	)
	air, err := Build(aa, 5, crcInit, [2]byte{0x02}, []byte{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)

	p, err := ParsePacket(air[SymbolsPerPreambleAA:], aa, 5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, StatusHeaderOnly, p.Status)
	assert.Equal(t, uint32(crcInit), p.RecoverCRCInit())
	assert.True(t, p.CheckCRC(crcInit))
	assert.Equal(t, uint8(2), p.LLID())
	assert.False(t, p.IsAdvertising())
}

func TestADStructuresMalformed(t *testing.T) {
	d := ADStructures{0x05, ADCompleteName, 'a'}
	assert.Nil(t, d.Field(ADCompleteName))
	assert.Empty(t, d.LocalName())
	assert.Nil(t, ADStructures{0x00, 0x01}.Field(ADFlags))

	svc := ADStructures(nil).AppendField(ADAllUUID16, []byte{0x0d, 0x18, 0x0f, 0x18})
	assert.Equal(t, []uint16{0x180d, 0x180f}, svc.UUID16s())
}
