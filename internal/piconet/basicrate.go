// Package piconet tracks per-piconet addressing and clock state and solves
// for the UAP and clock of classic piconets from captured headers.
package piconet

import (
	"fmt"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/monitoring"
)

// State of a piconet record.
type State int

const (
	Discovering State = iota // UAP or CLK6 unknown, packets queue in the backlog
	Tracking                 // UAP and CLK6 known, packets decode immediately
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "discovering"
}

// BasicRate is the state kept for one classic piconet, keyed by LAP.
type BasicRate struct {
	LAP uint32

	uap     uint8
	haveUAP bool
	nap     uint16
	haveNAP bool

	offset    uint32
	haveCLK6  bool
	haveCLK27 bool

	opts    Options
	backlog []*btbb.Packet
	dropped int
}

// NewBasicRate creates an empty record in the Discovering state.
func NewBasicRate(lap uint32, opts Options) *BasicRate {
	return &BasicRate{LAP: lap & 0xffffff, opts: opts.normalize()}
}

// State reports Tracking once both UAP and CLK6 are known.
func (p *BasicRate) State() State {
	if p.haveUAP && p.haveCLK6 {
		return Tracking
	}
	return Discovering
}

func (p *BasicRate) UAP() (uint8, bool) { return p.uap, p.haveUAP }

func (p *BasicRate) NAP() (uint16, bool) { return p.nap, p.haveNAP }

// Offset is CLK - CLKN modulo 2^27. Only the low six bits are meaningful
// until HaveCLK27 reports true.
func (p *BasicRate) Offset() (uint32, bool) { return p.offset, p.haveCLK6 }

func (p *BasicRate) HaveCLK27() bool { return p.haveCLK27 }

// SetUAP records the UAP. Repeated calls with the same value are no-ops.
func (p *BasicRate) SetUAP(uap uint8) {
	p.uap, p.haveUAP = uap, true
}

// SetNAP records the NAP.
func (p *BasicRate) SetNAP(nap uint16) {
	p.nap, p.haveNAP = nap, true
}

// SetCLK6 records a clock offset known only in its low six bits.
func (p *BasicRate) SetCLK6(clk6 uint8) {
	if p.haveCLK27 && uint8(p.offset&btbb.CLK6_MASK) == clk6&btbb.CLK6_MASK {
		return
	}
	p.offset = uint32(clk6) & btbb.CLK6_MASK
	p.haveCLK6, p.haveCLK27 = true, false
}

// SetOffset records a full 27-bit clock offset, for example from an FHS.
func (p *BasicRate) SetOffset(offset uint32) {
	p.offset = offset & btbb.CLOCK_MASK
	p.haveCLK6, p.haveCLK27 = true, true
}

// Clock converts a native clock value to this piconet's clock.
func (p *BasicRate) Clock(clkn uint32) uint32 {
	return (clkn + p.offset) & btbb.CLOCK_MASK
}

// Reset forgets the UAP and clock after the clock was lost. The NAP only
// ever comes from an FHS and is kept. The backlog is cleared.
func (p *BasicRate) Reset() {
	p.uap, p.haveUAP = 0, false
	p.offset, p.haveCLK6, p.haveCLK27 = 0, false, false
	p.backlog = nil
}

// Enqueue appends a packet to the discovery backlog. When the backlog is
// full the oldest packet is dropped and returned.
func (p *BasicRate) Enqueue(pkt *btbb.Packet) *btbb.Packet {
	var dropped *btbb.Packet
	if len(p.backlog) >= p.opts.MaxBacklog {
		dropped = p.backlog[0]
		p.backlog = p.backlog[1:]
		p.dropped++
		monitoring.Debugf("LAP %06x backlog full, dropping oldest (clkn %d)", p.LAP, dropped.CLKN)
	}
	p.backlog = append(p.backlog, pkt)
	return dropped
}

// Dequeue pops the oldest backlog packet. It only yields packets once the
// piconet is Tracking, so the backlog drains exactly once in FIFO order.
func (p *BasicRate) Dequeue() (*btbb.Packet, bool) {
	if p.State() != Tracking || len(p.backlog) == 0 {
		return nil, false
	}
	pkt := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	return pkt, true
}

// BacklogLen returns the number of queued packets.
func (p *BasicRate) BacklogLen() int { return len(p.backlog) }

// Backlog returns a copy of the queued packets, oldest first.
func (p *BasicRate) Backlog() []*btbb.Packet {
	return append([]*btbb.Packet(nil), p.backlog...)
}

// Dropped returns the number of packets lost to backlog overflow.
func (p *BasicRate) Dropped() int { return p.dropped }

// Discover runs a discovery round on the backlog. A resolved round sets the
// UAP and CLK6; a round without any survivor restarts the backlog from the
// newest packet.
func (p *BasicRate) Discover() Result {
	res, _ := Discover(p.backlog, p.opts)
	switch err := res.Err(); {
	case err == nil:
		p.SetUAP(res.Winner.UAP)
		p.SetCLK6(res.Winner.CLK6)
		monitoring.Logf("LAP %06x: UAP %02x CLK6 %02x from %d packets (%d candidates)",
			p.LAP, res.Winner.UAP, res.Winner.CLK6, res.BacklogLen, res.Survivors)
	case res.Survivors == 0 && len(p.backlog) > 1:
		newest := p.backlog[len(p.backlog)-1]
		p.backlog = []*btbb.Packet{newest}
		monitoring.Debugf("LAP %06x: no consistent UAP, restarting backlog", p.LAP)
	default:
		monitoring.Debugf("LAP %06x: %v", p.LAP, err)
	}
	return res
}

// Snapshot is a read-only view for monitoring.
type Snapshot struct {
	LAP        uint32  `json:"lap"`
	State      string  `json:"state"`
	UAP        *uint8  `json:"uap,omitempty"`
	NAP        *uint16 `json:"nap,omitempty"`
	Offset     *uint32 `json:"offset,omitempty"`
	HaveCLK27  bool    `json:"have_clk27"`
	BacklogLen int     `json:"backlog_len"`
	Dropped    int     `json:"dropped"`
}

// Snapshot captures the current state.
func (p *BasicRate) Snapshot() Snapshot {
	s := Snapshot{
		LAP:        p.LAP,
		State:      p.State().String(),
		HaveCLK27:  p.haveCLK27,
		BacklogLen: len(p.backlog),
		Dropped:    p.dropped,
	}
	if p.haveUAP {
		u := p.uap
		s.UAP = &u
	}
	if p.haveNAP {
		n := p.nap
		s.NAP = &n
	}
	if p.haveCLK6 {
		o := p.offset
		s.Offset = &o
	}
	return s
}

func (p *BasicRate) String() string {
	return fmt.Sprintf("LAP %06x %v backlog=%d", p.LAP, p.State(), len(p.backlog))
}
