package sniffer

import (
	"errors"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/piconet"
)

func (s *Sniffer) scanLE(samples []byte, sps int, clkn uint32, channel int) error {
	for phase := 0; phase < sps; phase++ {
		symbols := btbb.Downsample(samples, sps, phase)
		pos := 0
		limit := min(len(symbols)-btbb.SYMBOLS_PER_SHORT_ACCESS_CODE, btbb.SYMBOLS_PER_SLOT)
		for limit >= 0 {
			hit, ok := s.leScanner.Find(symbols[pos:], limit)
			if !ok {
				break
			}
			s.stats.LEHits++
			start := pos + hit.Position
			if s.duplicate(hit.AccessAddress, start*sps+phase, sps) {
				s.stats.Duplicates++
			} else {
				s.accessAddress(symbols[start+btle.SymbolsPerPreambleAA:], hit.AccessAddress, channel, clkn)
			}

			step := hit.Position + btle.SymbolsPerPreambleAA
			next, err := advance(pos, step, len(symbols))
			if err != nil {
				return err
			}
			pos = next
			limit -= step
		}
	}
	return nil
}

func (s *Sniffer) lowEnergy(aa uint32) *piconet.LowEnergy {
	pn, ok := s.le[aa]
	if !ok {
		if aa == btle.AdvertisingAccessAddress {
			pn = piconet.NewLowEnergyWithCRCInit(aa, btle.AdvertisingCRCInit, s.cfg.Discovery)
		} else {
			pn = piconet.NewLowEnergy(aa, s.cfg.Discovery)
		}
		s.le[aa] = pn
	}
	return pn
}

// accessAddress handles the symbols that follow a matched access address.
func (s *Sniffer) accessAddress(symbols []byte, aa uint32, channel int, clkn uint32) {
	pn := s.lowEnergy(aa)
	crcInit, known := pn.CRCInit()

	pkt, err := btle.ParsePacket(symbols, aa, channel, crcInit, known)
	switch {
	case errors.Is(err, btle.ErrCRCMismatch):
		pkt.CLKN = clkn
		s.stats.LECRCFailed++
		monitoring.Debugf("clkn %d %v: %v", clkn, pkt, err)
		s.emit(clkn, LEPacket{pkt}, nil)
		return
	case err != nil:
		monitoring.Debugf("clkn %d AA %08x: %v", clkn, aa, err)
		return
	}
	pkt.CLKN = clkn

	if known {
		s.leDecoded(pkt)
	} else {
		if dropped := pn.Enqueue(pkt); dropped != nil {
			s.stats.BacklogDropped++
		}
		if pn.Discover() {
			s.stats.Discoveries++
			crcInit, _ = pn.CRCInit()
			for {
				queued, ok := pn.Dequeue()
				if !ok {
					break
				}
				if queued.CheckCRC(crcInit) {
					s.leDecoded(queued)
				} else {
					s.stats.LECRCFailed++
				}
			}
		}
	}
	s.emit(clkn, LEPacket{pkt}, nil)
}

func (s *Sniffer) leDecoded(pkt *btle.Packet) {
	s.stats.LEDecoded++
	monitoring.Debugf("clkn %d %v", pkt.CLKN, pkt)
	if !pkt.IsAdvertising() || pkt.PDUType() != btle.CONNECT_IND {
		return
	}
	ci, err := pkt.ConnectInd()
	if err != nil {
		monitoring.Debugf("%v: %v", pkt, err)
		return
	}
	if _, ok := s.le[ci.AccessAddress]; ok {
		return
	}
	s.stats.Connections++
	s.le[ci.AccessAddress] = piconet.NewLowEnergyWithCRCInit(ci.AccessAddress, ci.CRCInit, s.cfg.Discovery)
	s.leScanner.Add(ci.AccessAddress)
	monitoring.Logf("LE connection %s -> %s: AA %08x CRCInit %06x interval %d",
		ci.InitA, ci.AdvA, ci.AccessAddress, ci.CRCInit, ci.Interval)
}
