// Package sniffer drives the per-slot decode pipeline: access code scanning,
// header decoding, UAP discovery and backlog replay for classic piconets,
// and access address tracking for Low Energy.
//
// A Sniffer is not safe for concurrent use. Runner serialises slots and
// snapshots for callers that need both from different goroutines.
package sniffer

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/piconet"
	"github.com/banshee-data/btsniff/internal/timeutil"
)

// ErrFatalInvariant is returned when the driver computes a scan advance that
// leaves the symbol window. It indicates a logic error; the capture session
// must stop.
var ErrFatalInvariant = errors.New("fatal invariant violation")

// Config selects what the driver decodes.
type Config struct {
	// MaxACErrors is the number of symbol errors tolerated in an access
	// code or access address match.
	MaxACErrors int
	Classic     bool
	LowEnergy   bool
	Discovery   piconet.Options
	// LEAccessAddresses are data channel access addresses to follow from
	// the start, in addition to the advertising address and any learnt
	// from CONNECT_IND.
	LEAccessAddresses []uint32
}

// DefaultConfig decodes both classic and LE with exact access code matches.
func DefaultConfig() Config {
	return Config{
		Classic:   true,
		LowEnergy: true,
		Discovery: piconet.DefaultOptions(),
	}
}

// Deps are optional collaborators.
type Deps struct {
	Sink     Sink
	Observer Observer
	Clock    timeutil.Clock
}

// Slot is one processing slot of demodulated samples. Each byte is a signed
// soft decision; values above zero are ones.
type Slot struct {
	Samples          []byte
	SamplesPerSymbol int
	CenterFreqMHz    int
}

// Stats are cumulative driver counters.
type Stats struct {
	Slots          uint64 `json:"slots"`
	ClassicHits    uint64 `json:"classic_hits"`
	LEHits         uint64 `json:"le_hits"`
	Duplicates     uint64 `json:"duplicates"`
	IDPackets      uint64 `json:"id_packets"`
	Decoded        uint64 `json:"decoded"`
	CRCFailed      uint64 `json:"crc_failed"`
	Discoveries    uint64 `json:"discoveries"`
	ClockLosses    uint64 `json:"clock_losses"`
	GaveUp         uint64 `json:"gave_up"`
	BacklogDropped uint64 `json:"backlog_dropped"`
	FHS            uint64 `json:"fhs"`
	InquiryFHS     uint64 `json:"inquiry_fhs"`
	LEDecoded      uint64 `json:"le_decoded"`
	LECRCFailed    uint64 `json:"le_crc_failed"`
	Connections    uint64 `json:"connections"`
	DeliverErrors  uint64 `json:"deliver_errors"`
}

// Sniffer owns the piconet maps and turns slots into decoded packets.
type Sniffer struct {
	cfg      Config
	sink     Sink
	observer Observer
	clock    timeutil.Clock

	slots     uint64
	classic   map[uint32]*piconet.BasicRate
	le        map[uint32]*piconet.LowEnergy
	leScanner *btle.Scanner

	seen  []seenHit
	stats Stats
}

type seenHit struct {
	addr   uint32
	sample int
}

// New returns a driver with empty piconet maps.
func New(cfg Config, deps Deps) *Sniffer {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	s := &Sniffer{
		cfg:       cfg,
		sink:      deps.Sink,
		observer:  deps.Observer,
		clock:     deps.Clock,
		classic:   make(map[uint32]*piconet.BasicRate),
		le:        make(map[uint32]*piconet.LowEnergy),
		leScanner: btle.NewScanner(cfg.MaxACErrors, cfg.LEAccessAddresses...),
	}
	return s
}

// ProcessSlot runs the pipeline over one slot and reports the number of
// slots consumed, which is always one. The native clock advances by one
// slot per call. The only error returned wraps ErrFatalInvariant.
func (s *Sniffer) ProcessSlot(slot Slot) (int, error) {
	clkn := uint32(s.slots) & btbb.CLOCK_MASK
	s.slots++
	s.stats.Slots++
	s.seen = s.seen[:0]

	sps := slot.SamplesPerSymbol
	if sps <= 0 {
		sps = 1
	}
	if s.cfg.Classic {
		if err := s.scanClassic(slot.Samples, sps, clkn, classicChannel(slot.CenterFreqMHz)); err != nil {
			return 1, err
		}
	}
	if s.cfg.LowEnergy {
		channel, err := btle.ChannelIndex(slot.CenterFreqMHz)
		if err == nil {
			if err := s.scanLE(slot.Samples, sps, clkn, channel); err != nil {
				return 1, err
			}
		}
	}
	return 1, nil
}

// classicChannel maps a centre frequency onto the 79 Basic Rate channels.
func classicChannel(freqMHz int) int {
	ch := freqMHz - 2402
	if ch < 0 || ch > 78 {
		return -1
	}
	return ch
}

// advance moves a scan position forward by step symbols inside a window of
// the given length.
func advance(pos, step, window int) (int, error) {
	if step <= 0 || pos+step > window {
		return pos, fmt.Errorf("advance %d from %d past %d-symbol window: %w", step, pos, window, ErrFatalInvariant)
	}
	return pos + step, nil
}

// duplicate reports whether addr was already handled within one symbol of
// sample in this slot, as happens when neighbouring sample phases both see
// the same packet. Unseen hits are recorded.
func (s *Sniffer) duplicate(addr uint32, sample, sps int) bool {
	for _, h := range s.seen {
		d := h.sample - sample
		if h.addr == addr && d < sps && -d < sps {
			return true
		}
	}
	s.seen = append(s.seen, seenHit{addr: addr, sample: sample})
	return false
}

func (s *Sniffer) emit(clkn uint32, pkt Packet, pn *piconet.BasicRate) {
	if s.observer == nil {
		return
	}
	e := Event{Time: s.clock.Now(), CLKN: clkn, Packet: pkt}
	if pn != nil {
		snap := pn.Snapshot()
		e.Piconet = &snap
	}
	s.observer.Observe(e)
}

// Stats returns the cumulative counters.
func (s *Sniffer) Stats() Stats { return s.stats }

// Piconet returns the classic record for lap, if one exists.
func (s *Sniffer) Piconet(lap uint32) (*piconet.BasicRate, bool) {
	pn, ok := s.classic[lap]
	return pn, ok
}

// LowEnergyPiconet returns the LE record for aa, if one exists.
func (s *Sniffer) LowEnergyPiconet(aa uint32) (*piconet.LowEnergy, bool) {
	pn, ok := s.le[aa]
	return pn, ok
}

// Snapshot is a point-in-time view of the driver.
type Snapshot struct {
	Stats     Stats                `json:"stats"`
	Classic   []piconet.Snapshot   `json:"classic"`
	LowEnergy []piconet.LESnapshot `json:"low_energy"`
}

// Snapshot copies the piconet state, sorted by address.
func (s *Sniffer) Snapshot() Snapshot {
	snap := Snapshot{
		Stats:     s.stats,
		Classic:   make([]piconet.Snapshot, 0, len(s.classic)),
		LowEnergy: make([]piconet.LESnapshot, 0, len(s.le)),
	}
	for _, pn := range s.classic {
		snap.Classic = append(snap.Classic, pn.Snapshot())
	}
	for _, pn := range s.le {
		snap.LowEnergy = append(snap.LowEnergy, pn.Snapshot())
	}
	slices.SortFunc(snap.Classic, func(a, b piconet.Snapshot) int { return cmp.Compare(a.LAP, b.LAP) })
	slices.SortFunc(snap.LowEnergy, func(a, b piconet.LESnapshot) int { return cmp.Compare(a.AccessAddress, b.AccessAddress) })
	return snap
}
