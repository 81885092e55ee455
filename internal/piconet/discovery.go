package piconet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/banshee-data/btsniff/internal/btbb"
)

// ErrInconclusive reports that the backlog does not yet pin down a single
// UAP/CLK6 pair. It is informational and never a decode failure.
var ErrInconclusive = errors.New("uap discovery inconclusive")

// Candidate is one UAP/CLK6 pair consistent with every header in a backlog.
type Candidate struct {
	UAP   uint8 `json:"uap"`
	CLK6  uint8 `json:"clk6"`  // offset of CLK1..6 from CLKN1..6
	Score int   `json:"score"` // backlog payloads whose CRC verifies
}

// Outcome of a discovery round.
type Outcome int

const (
	Inconclusive Outcome = iota
	Resolved
)

func (o Outcome) String() string {
	if o == Resolved {
		return "resolved"
	}
	return "inconclusive"
}

// Result summarises a discovery round.
type Result struct {
	Outcome    Outcome   `json:"outcome"`
	Winner     Candidate `json:"winner"`
	Survivors  int       `json:"survivors"`
	BacklogLen int       `json:"backlog_len"`
}

// Options bound the discovery backlog.
type Options struct {
	// MinBacklog is the backlog depth at which several surviving candidates
	// are ranked by payload CRC instead of waiting for more packets.
	MinBacklog int `json:"min_backlog"`
	// MaxBacklog caps queued packets; the oldest is dropped beyond it.
	MaxBacklog int `json:"max_backlog"`
}

const (
	DefaultMinBacklog = 3
	DefaultMaxBacklog = 64
)

// DefaultOptions returns the standard discovery bounds.
func DefaultOptions() Options {
	return Options{MinBacklog: DefaultMinBacklog, MaxBacklog: DefaultMaxBacklog}
}

func (o Options) normalize() Options {
	if o.MinBacklog < 2 {
		o.MinBacklog = DefaultMinBacklog
	}
	if o.MaxBacklog < o.MinBacklog {
		o.MaxBacklog = DefaultMaxBacklog
	}
	return o
}

// Survivors enumerates the 64 CLK6 offsets and keeps those for which every
// backlog header implies the same UAP. The HEC can be run backwards, so each
// header yields exactly one UAP per clock offset and the 256 UAP values never
// need to be tried one by one. Results are sorted by (UAP, CLK6).
func Survivors(backlog []*btbb.Packet) []Candidate {
	if len(backlog) == 0 {
		return nil
	}
	var out []Candidate
	for off := uint32(0); off < 64; off++ {
		uap := backlog[0].UAPAt(backlog[0].CLKN + off)
		consistent := true
		for _, p := range backlog[1:] {
			if p.UAPAt(p.CLKN+off) != uap {
				consistent = false
				break
			}
		}
		if consistent {
			out = append(out, Candidate{UAP: uap, CLK6: uint8(off)})
		}
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if a.UAP != b.UAP {
			return int(a.UAP) - int(b.UAP)
		}
		return int(a.CLK6) - int(b.CLK6)
	})
	return out
}

// Discover runs one discovery round over a FIFO backlog.
//
// Decision order:
//  1. no survivor: Inconclusive (the caller restarts the backlog)
//  2. exactly one survivor over at least two headers: Resolved
//  3. at least MinBacklog headers: survivors are scored by how many backlog
//     payloads pass their CRC; the best score wins, ties going to the first
//     candidate in (UAP, CLK6) order
//  4. no payload verifies and the survivors name different UAPs:
//     Inconclusive, as header-only backlogs always keep the CLK6 bit 5
//     twin alive
//  5. otherwise Inconclusive until more packets arrive
func Discover(backlog []*btbb.Packet, opts Options) (Result, []Candidate) {
	opts = opts.normalize()
	res := Result{BacklogLen: len(backlog)}
	cands := Survivors(backlog)
	res.Survivors = len(cands)

	switch {
	case len(cands) == 0:
		return res, nil
	case len(cands) == 1 && len(backlog) >= 2:
		res.Outcome = Resolved
		res.Winner = cands[0]
		return res, cands
	case len(backlog) < opts.MinBacklog:
		return res, cands
	}

	best := -1
	for i := range cands {
		for _, p := range backlog {
			if p.PayloadCRCValidAt(p.CLKN+uint32(cands[i].CLK6), cands[i].UAP) {
				cands[i].Score++
			}
		}
		if best < 0 || cands[i].Score > cands[best].Score {
			best = i
		}
	}
	if cands[best].Score == 0 && !sameUAP(cands) {
		return res, cands
	}
	res.Outcome = Resolved
	res.Winner = cands[best]
	return res, cands
}

func sameUAP(cands []Candidate) bool {
	for _, c := range cands[1:] {
		if c.UAP != cands[0].UAP {
			return false
		}
	}
	return true
}

// Err returns nil for a resolved round and wraps ErrInconclusive otherwise.
func (r Result) Err() error {
	if r.Outcome == Resolved {
		return nil
	}
	return fmt.Errorf("%d candidates over %d packets: %w", r.Survivors, r.BacklogLen, ErrInconclusive)
}
