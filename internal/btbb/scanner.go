package btbb

import (
	"iter"
	"math/bits"
)

// Hit is a confirmed access code correlation.
type Hit struct {
	Position       int    `json:"position"`        // symbol index of the first preamble symbol
	Phase          int    `json:"phase"`           // sample offset used when down-sampling
	SamplePosition int    `json:"sample_position"` // Position*sps + Phase in the original sample window
	LAP            uint32 `json:"lap"`
	Distance       int    `json:"distance"` // symbol errors against the regenerated access code
}

// Preamble (4 symbols + sync word LSB) and barker (LAP MSB + 6 barker
// symbols) patterns, bit i being symbol i.
var (
	preamblePatterns = [2]uint64{0x0a, 0x15}
	barkerPatterns   = [2]uint64{0x58, 0x27}
)

func patternDistance(v uint64, patterns [2]uint64) int {
	a := bits.OnesCount64(v ^ patterns[0])
	b := bits.OnesCount64(v ^ patterns[1])
	return min(a, b)
}

// Downsample picks one symbol per sps samples starting at phase. A sample
// above zero is a one.
func Downsample(samples []byte, sps, phase int) []byte {
	if sps <= 0 || phase >= len(samples) {
		return nil
	}
	n := (len(samples) - phase + sps - 1) / sps
	out := make([]byte, n)
	for i := range out {
		if int8(samples[phase+i*sps]) > 0 {
			out[i] = 1
		}
	}
	return out
}

// Scanner searches one down-sampled symbol stream for Basic Rate access
// codes.
type Scanner struct {
	symbols  []byte
	phase    int
	sps      int
	maxError int
	pos      int
}

// NewScanner returns a scanner over symbols that were taken at the given
// sample phase. maxError is the number of symbol errors tolerated across the
// 68-symbol shortened access code.
func NewScanner(symbols []byte, sps, phase, maxError int) *Scanner {
	if sps <= 0 {
		sps = 1
	}
	return &Scanner{symbols: symbols, phase: phase, sps: sps, maxError: maxError}
}

// Position returns the index of the next symbol to be examined.
func (s *Scanner) Position() int { return s.pos }

// Symbols returns the stream being scanned.
func (s *Scanner) Symbols() []byte { return s.symbols }

// Remaining returns the symbols left to scan from the current position.
func (s *Scanner) Remaining() int { return len(s.symbols) - s.pos }

// Skip moves the scan position forward by n symbols.
func (s *Scanner) Skip(n int) {
	s.pos += n
	if s.pos > len(s.symbols) {
		s.pos = len(s.symbols)
	}
}

// Next returns the next hit at or after the current position. After a hit the
// scanner resumes one symbol later; callers that accept the packet Skip past
// it.
func (s *Scanner) Next() (Hit, bool) {
	for s.pos+SYMBOLS_PER_SHORT_ACCESS_CODE <= len(s.symbols) {
		i := s.pos
		s.pos++
		if hit, ok := s.check(i); ok {
			return hit, true
		}
	}
	return Hit{}, false
}

func (s *Scanner) check(i int) (Hit, bool) {
	w := s.symbols[i : i+SYMBOLS_PER_SHORT_ACCESS_CODE]
	pre := patternDistance(airToHost(w[0:5]), preamblePatterns)
	bark := patternDistance(airToHost(w[BARKER_OFFSET:BARKER_OFFSET+7]), barkerPatterns)
	if pre+bark > s.maxError {
		return Hit{}, false
	}
	lap := uint32(airToHost(w[LAP_OFFSET : LAP_OFFSET+24]))
	d := hamming(w, ShortAccessCode(lap))
	if d > s.maxError {
		return Hit{}, false
	}
	return Hit{
		Position:       i,
		Phase:          s.phase,
		SamplePosition: i*s.sps + s.phase,
		LAP:            lap,
		Distance:       d,
	}, true
}

// Scan visits every sample phase in [0, sps) and yields each access code hit.
// Confirmed hits skip the shortened access code before scanning resumes.
func Scan(samples []byte, sps, maxError int) iter.Seq[Hit] {
	return func(yield func(Hit) bool) {
		for phase := 0; phase < sps; phase++ {
			sc := NewScanner(Downsample(samples, sps, phase), sps, phase, maxError)
			for {
				hit, ok := sc.Next()
				if !ok {
					break
				}
				if !yield(hit) {
					return
				}
				sc.Skip(SYMBOLS_PER_SHORT_ACCESS_CODE - 1)
			}
		}
	}
}
