package piconet

import (
	"fmt"

	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/monitoring"
)

// LowEnergy is the state kept for one LE access address. Packets on an
// access address with an unknown CRCInit queue until two of them agree on
// the CRCInit recovered by running the CRC backwards.
type LowEnergy struct {
	AccessAddress uint32

	crcInit     uint32
	haveCRCInit bool

	opts    Options
	backlog []*btle.Packet
	dropped int
}

// NewLowEnergy creates a record whose CRCInit is still unknown.
func NewLowEnergy(aa uint32, opts Options) *LowEnergy {
	return &LowEnergy{AccessAddress: aa, opts: opts.normalize()}
}

// NewLowEnergyWithCRCInit creates a record that decodes immediately, as for
// the advertising access address or a connection seen in a CONNECT_IND.
func NewLowEnergyWithCRCInit(aa, crcInit uint32, opts Options) *LowEnergy {
	le := NewLowEnergy(aa, opts)
	le.SetCRCInit(crcInit)
	return le
}

func (le *LowEnergy) State() State {
	if le.haveCRCInit {
		return Tracking
	}
	return Discovering
}

func (le *LowEnergy) CRCInit() (uint32, bool) { return le.crcInit, le.haveCRCInit }

func (le *LowEnergy) SetCRCInit(crcInit uint32) {
	le.crcInit, le.haveCRCInit = crcInit&0xffffff, true
}

// Enqueue appends a packet whose CRC could not be checked yet. The oldest
// packet is dropped and returned once the backlog is full.
func (le *LowEnergy) Enqueue(pkt *btle.Packet) *btle.Packet {
	var dropped *btle.Packet
	if len(le.backlog) >= le.opts.MaxBacklog {
		dropped = le.backlog[0]
		le.backlog = le.backlog[1:]
		le.dropped++
		monitoring.Debugf("AA %08x backlog full, dropping oldest", le.AccessAddress)
	}
	le.backlog = append(le.backlog, pkt)
	return dropped
}

// Discover looks for a CRCInit implied by at least two backlog packets. The
// newest packets are preferred so a stale capture does not pin a wrong value.
func (le *LowEnergy) Discover() bool {
	if le.haveCRCInit {
		return true
	}
	seen := make(map[uint32]int, len(le.backlog))
	for i := len(le.backlog) - 1; i >= 0; i-- {
		ci := le.backlog[i].RecoverCRCInit()
		seen[ci]++
		if seen[ci] >= 2 {
			le.SetCRCInit(ci)
			monitoring.Logf("AA %08x: CRCInit %06x from %d packets", le.AccessAddress, ci, len(le.backlog))
			return true
		}
	}
	return false
}

// Dequeue pops the oldest backlog packet once the CRCInit is known.
func (le *LowEnergy) Dequeue() (*btle.Packet, bool) {
	if !le.haveCRCInit || len(le.backlog) == 0 {
		return nil, false
	}
	pkt := le.backlog[0]
	le.backlog[0] = nil
	le.backlog = le.backlog[1:]
	return pkt, true
}

func (le *LowEnergy) BacklogLen() int { return len(le.backlog) }

func (le *LowEnergy) Dropped() int { return le.dropped }

// LESnapshot is a read-only view for monitoring.
type LESnapshot struct {
	AccessAddress uint32  `json:"access_address"`
	State         string  `json:"state"`
	CRCInit       *uint32 `json:"crc_init,omitempty"`
	BacklogLen    int     `json:"backlog_len"`
	Dropped       int     `json:"dropped"`
}

func (le *LowEnergy) Snapshot() LESnapshot {
	s := LESnapshot{
		AccessAddress: le.AccessAddress,
		State:         le.State().String(),
		BacklogLen:    len(le.backlog),
		Dropped:       le.dropped,
	}
	if le.haveCRCInit {
		ci := le.crcInit
		s.CRCInit = &ci
	}
	return s
}

func (le *LowEnergy) String() string {
	return fmt.Sprintf("AA %08x %v backlog=%d", le.AccessAddress, le.State(), len(le.backlog))
}
