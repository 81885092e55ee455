package btbb

import (
	"math/bits"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSymbols(r *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.IntN(2))
	}
	return out
}

func TestSyncWord(t *testing.T) {
	tests := []struct {
		lap  uint32
		want uint64
	}{
		{GIAC, 0x4e7a2cce331a3ae2},
		{0x123456, 0xb048d15a658627c0},
		{0x000000, 0xb0000002c7820e7e},
		{0xffffff, 0x4ffffffe44ad1ae7},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, SyncWord(tt.lap), "lap %06x", tt.lap)
	}

	// Published Bluetooth sample data prints the GIAC sync word MSB first.
	assert.Equal(t, uint64(0x475C58CC73345E72), bits.Reverse64(SyncWord(GIAC)))
}

func TestAccessCodeLayout(t *testing.T) {
	for _, lap := range []uint32{GIAC, LIAC, 0x123456, 0x7a8b9c, 0xffffff} {
		ac := AccessCode(lap)
		require.Len(t, ac, SYMBOLS_PER_ACCESS_CODE)

		assert.Equal(t, uint64(lap), airToHost(ac[LAP_OFFSET:LAP_OFFSET+24]), "lap field")
		assert.Zero(t, patternDistance(airToHost(ac[0:5]), preamblePatterns), "preamble")
		assert.Zero(t, patternDistance(airToHost(ac[BARKER_OFFSET:BARKER_OFFSET+7]), barkerPatterns), "barker")

		for i := 1; i < SYMBOLS_PER_PREAMBLE+1; i++ {
			assert.NotEqual(t, ac[i-1], ac[i], "preamble must alternate into the sync word")
		}
		for i := SYMBOLS_PER_SHORT_ACCESS_CODE; i < SYMBOLS_PER_ACCESS_CODE; i++ {
			assert.NotEqual(t, ac[i-1], ac[i], "trailer must alternate out of the sync word")
		}
	}
}

func TestIsInquiryLAP(t *testing.T) {
	assert.True(t, IsInquiryLAP(GIAC))
	assert.True(t, IsInquiryLAP(LIAC))
	assert.False(t, IsInquiryLAP(0x9E8B34))
}

func TestScanFindsAccessCode(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	const lap = 0x7a8b9c
	stream := randomSymbols(r, 37)
	stream = append(stream, AccessCode(lap)...)
	stream = append(stream, randomSymbols(r, 200)...)

	hits := slices.Collect(Scan(stream, 1, 0))
	require.Len(t, hits, 1)
	assert.Equal(t, Hit{Position: 37, Phase: 0, SamplePosition: 37, LAP: lap, Distance: 0}, hits[0])
}

func TestScanSamplePhase(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	const (
		lap   = 0x123456
		sps   = 4
		phase = 2
	)
	symbols := append(randomSymbols(r, 20), AccessCode(lap)...)
	symbols = append(symbols, randomSymbols(r, 100)...)

	samples := make([]byte, 0, len(symbols)*sps)
	for _, s := range symbols {
		for p := 0; p < sps; p++ {
			v := s
			if p != phase {
				v = byte(r.IntN(2))
			}
			if v == 1 {
				samples = append(samples, 0x01)
			} else {
				samples = append(samples, 0xff) // -1 as int8
			}
		}
	}

	hits := slices.Collect(Scan(samples, sps, 0))
	require.Len(t, hits, 1)
	assert.Equal(t, 20, hits[0].Position)
	assert.Equal(t, phase, hits[0].Phase)
	assert.Equal(t, 20*sps+phase, hits[0].SamplePosition)
	assert.Equal(t, uint32(lap), hits[0].LAP)
}

func TestScannerErrorTolerance(t *testing.T) {
	stream := append(make([]byte, 10), AccessCode(0x123456)...)
	stream = append(stream, make([]byte, 60)...)
	stream[10+20] ^= 1 // inside the parity part of the sync word

	_, ok := NewScanner(stream, 1, 0, 0).Next()
	assert.False(t, ok, "exact matching must reject a corrupted sync word")

	hit, ok := NewScanner(stream, 1, 0, 1).Next()
	require.True(t, ok)
	assert.Equal(t, 10, hit.Position)
	assert.Equal(t, 1, hit.Distance)
}

func TestScannerSkipAndRemaining(t *testing.T) {
	stream := append(AccessCode(GIAC), AccessCode(LIAC)...)
	sc := NewScanner(stream, 1, 0, 0)

	hit, ok := sc.Next()
	require.True(t, ok)
	assert.Equal(t, GIAC, hit.LAP)
	assert.Equal(t, 1, sc.Position())

	sc.Skip(SYMBOLS_PER_SHORT_ACCESS_CODE - 1)
	hit, ok = sc.Next()
	require.True(t, ok)
	assert.Equal(t, LIAC, hit.LAP)
	assert.Equal(t, SYMBOLS_PER_ACCESS_CODE, hit.Position)

	sc.Skip(1000)
	assert.Zero(t, sc.Remaining())
	_, ok = sc.Next()
	assert.False(t, ok)
}

func TestScanShortWindow(t *testing.T) {
	assert.Empty(t, slices.Collect(Scan(AccessCode(GIAC)[:67], 1, 0)))
	assert.Empty(t, slices.Collect(Scan(nil, 1, 0)))
}

func TestDownsample(t *testing.T) {
	samples := []byte{0x01, 0xff, 0x7f, 0x80, 0x00, 0x05}
	assert.Equal(t, []byte{1, 1, 0}, Downsample(samples, 2, 0))
	assert.Equal(t, []byte{0, 0, 1}, Downsample(samples, 2, 1))
	assert.Nil(t, Downsample(samples, 0, 0))
}
