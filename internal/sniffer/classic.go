package sniffer

import (
	"errors"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/piconet"
)

func (s *Sniffer) scanClassic(samples []byte, sps int, clkn uint32, channel int) error {
	for phase := 0; phase < sps; phase++ {
		symbols := btbb.Downsample(samples, sps, phase)
		sc := btbb.NewScanner(symbols, sps, phase, s.cfg.MaxACErrors)
		for {
			hit, ok := sc.Next()
			if !ok {
				break
			}
			s.stats.ClassicHits++
			if s.duplicate(hit.LAP, hit.SamplePosition, sps) {
				s.stats.Duplicates++
			} else {
				s.accessCode(btbb.NewPacket(symbols[hit.Position:], hit.LAP, clkn, channel))
			}

			// Next already stepped one symbol past the hit.
			step := btbb.SYMBOLS_PER_SHORT_ACCESS_CODE - 1
			if _, err := advance(sc.Position(), step, len(symbols)); err != nil {
				return err
			}
			sc.Skip(step)
		}
	}
	return nil
}

// accessCode handles one classic access code hit.
func (s *Sniffer) accessCode(pkt *btbb.Packet) {
	switch {
	case !pkt.HasHeader():
		s.id(pkt)
	case btbb.IsInquiryLAP(pkt.LAP):
		// Inquiry access codes are shared by every device; a record for
		// them would never describe a real piconet.
		s.inquiry(pkt)
		s.emit(pkt.CLKN, ClassicPacket{pkt}, nil)
	default:
		pn := s.basicRate(pkt.LAP)
		if pn.State() == piconet.Tracking {
			s.decode(pkt, pn, true)
		} else {
			s.discover(pkt, pn)
		}
		s.emit(pkt.CLKN, ClassicPacket{pkt}, pn)
	}
}

func (s *Sniffer) basicRate(lap uint32) *piconet.BasicRate {
	pn, ok := s.classic[lap]
	if !ok {
		pn = piconet.NewBasicRate(lap, s.cfg.Discovery)
		s.classic[lap] = pn
	}
	return pn
}

// id handles a packet that ended after the access code.
func (s *Sniffer) id(pkt *btbb.Packet) {
	s.stats.IDPackets++
	monitoring.Debugf("clkn %d ch %d LAP %06x: ID", pkt.CLKN, pkt.Channel, pkt.LAP)
	if s.sink != nil {
		if err := s.sink.Deliver(uint64(pkt.LAP), nil, EtherType); err != nil {
			s.stats.DeliverErrors++
			monitoring.Logf("deliver ID %06x: %v", pkt.LAP, err)
		}
	}
	s.emit(pkt.CLKN, ClassicPacket{pkt}, nil)
}

// decode decodes pkt with the piconet's UAP and clock. A failure on a live
// packet means the clock was lost: the piconet is reset and pkt seeds a new
// discovery round. A backlog packet whose header verified during discovery
// but whose payload fails is abandoned.
func (s *Sniffer) decode(pkt *btbb.Packet, pn *piconet.BasicRate, live bool) {
	uap, _ := pn.UAP()
	err := pkt.Decode(pn.Clock(pkt.CLKN), uap, pn.HaveCLK27())
	if err == nil {
		s.stats.Decoded++
		monitoring.Debugf("%v", pkt)
		nap, _ := pn.NAP()
		s.deliver(pkt, nap)
		if pkt.Header.Type == btbb.TypeFHS {
			s.fhs(pkt)
		}
		return
	}

	s.stats.CRCFailed++
	if live || errors.Is(err, btbb.ErrHECMismatch) {
		s.stats.ClockLosses++
		monitoring.Logf("LAP %06x: lost clock at clkn %d (%v), rediscovering", pn.LAP, pkt.CLKN, err)
		pn.Reset()
		s.discover(pkt, pn)
		return
	}
	// A queued packet whose header passed but whose payload fails is dropped
	// rather than restarting discovery, as the first live failure already
	// covers a wrong clock.
	s.stats.GaveUp++
	monitoring.Debugf("LAP %06x: giving up on queued packet at clkn %d: %v", pn.LAP, pkt.CLKN, err)
}

// discover queues pkt and replays the backlog once discovery resolves.
func (s *Sniffer) discover(pkt *btbb.Packet, pn *piconet.BasicRate) {
	if dropped := pn.Enqueue(pkt); dropped != nil {
		s.stats.BacklogDropped++
	}
	if res := pn.Discover(); res.Outcome == piconet.Resolved {
		s.stats.Discoveries++
		s.recall(pn)
	}
}

// recall drains the backlog in FIFO order.
func (s *Sniffer) recall(pn *piconet.BasicRate) {
	n := pn.BacklogLen()
	for {
		pkt, ok := pn.Dequeue()
		if !ok {
			break
		}
		s.decode(pkt, pn, false)
	}
	monitoring.Debugf("LAP %06x: replayed %d queued packets", pn.LAP, n)
}

func (s *Sniffer) deliver(pkt *btbb.Packet, nap uint16) {
	if s.sink == nil || !pkt.Header.Type.HasPayload() {
		return
	}
	if err := s.sink.Deliver(pkt.Address(nap), pkt.TunFormat(), EtherType); err != nil {
		s.stats.DeliverErrors++
		monitoring.Logf("deliver %v: %v", pkt, err)
	}
}

// inquiry looks for an FHS inquiry response. These are protected with the
// default check initialiser and whitened with a clock that is unknown here,
// so every CLK1..6 value is tried and only a verified payload CRC is
// accepted.
func (s *Sniffer) inquiry(pkt *btbb.Packet) {
	for off := uint32(0); off <= btbb.CLK6_MASK; off++ {
		clk := pkt.CLKN + off
		if pkt.TypeAt(clk) != btbb.TypeFHS || !pkt.PayloadCRCValidAt(clk, btbb.DCI) {
			continue
		}
		if err := pkt.Decode(clk, btbb.DCI, false); err != nil {
			continue
		}
		s.stats.InquiryFHS++
		s.stats.Decoded++
		s.deliver(pkt, 0)
		s.fhs(pkt)
		return
	}
	monitoring.Debugf("clkn %d LAP %06x: inquiry packet without FHS", pkt.CLKN, pkt.LAP)
}

// fhs seeds the piconet named by a decoded FHS payload.
func (s *Sniffer) fhs(pkt *btbb.Packet) {
	f, err := btbb.ExtractPacketFHS(pkt)
	if err != nil {
		monitoring.Debugf("LAP %06x: %v", pkt.LAP, err)
		return
	}
	if btbb.IsInquiryLAP(f.LAP) {
		return
	}
	s.stats.FHS++
	offset := f.Offset(pkt.CLKN)
	monitoring.Logf("FHS contents: BD_ADDR %02x:%02x:%02x:%02x:%02x:%02x, CLK %07x",
		f.NAP>>8, f.NAP&0xff, f.UAP, f.LAP>>16&0xff, f.LAP>>8&0xff, f.LAP&0xff, f.Clock<<1)

	// A role switch can leave the offset up to one slot off.
	pn := s.basicRate(f.LAP)
	pn.SetUAP(f.UAP)
	pn.SetNAP(f.NAP)
	pn.SetOffset(offset)
	if pn.BacklogLen() > 0 {
		s.recall(pn)
	}
}
