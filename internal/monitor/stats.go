package monitor

import (
	"net/http"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/btsniff/internal/piconet"
)

// Summary describes how far discovery has progressed across piconets and
// how busy the tracked devices are.
type Summary struct {
	Piconets         int     `json:"piconets"`
	Tracking         int     `json:"tracking"`
	TrackingFraction float64 `json:"tracking_fraction"`
	BacklogMean      float64 `json:"backlog_mean"`
	BacklogMax       float64 `json:"backlog_max"`

	Devices       int     `json:"devices"`
	PacketsMean   float64 `json:"packets_mean"`
	PacketsStdDev float64 `json:"packets_stddev"`
	PacketsMedian float64 `json:"packets_median"`
	PacketsP90    float64 `json:"packets_p90"`

	// DiscoveryYield is discoveries per decoded classic packet.
	DiscoveryYield float64 `json:"discovery_yield"`
}

// Summarise computes the summary. Fields that need more samples than are
// available stay zero.
func Summarise(classic []piconet.Snapshot, packets []float64, discoveries, decoded uint64) Summary {
	var s Summary
	s.Piconets = len(classic)
	if len(classic) > 0 {
		backlog := make([]float64, len(classic))
		for i, pn := range classic {
			backlog[i] = float64(pn.BacklogLen)
			if pn.State == piconet.Tracking.String() {
				s.Tracking++
			}
		}
		s.TrackingFraction = float64(s.Tracking) / float64(len(classic))
		s.BacklogMean = stat.Mean(backlog, nil)
		s.BacklogMax = slices.Max(backlog)
	}

	s.Devices = len(packets)
	if len(packets) > 0 {
		sorted := slices.Clone(packets)
		slices.Sort(sorted)
		if len(sorted) > 1 {
			s.PacketsMean, s.PacketsStdDev = stat.MeanStdDev(sorted, nil)
		} else {
			s.PacketsMean = sorted[0]
		}
		s.PacketsMedian = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		s.PacketsP90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	}

	if decoded > 0 {
		s.DiscoveryYield = float64(discoveries) / float64(decoded)
	}
	return s
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Sniffer.Snapshot()
	var packets []float64
	if s.cfg.Devices != nil {
		for _, d := range s.cfg.Devices.Devices() {
			packets = append(packets, float64(d.Packets))
		}
	}
	writeJSON(w, http.StatusOK, Summarise(snap.Classic, packets, snap.Stats.Discoveries, snap.Stats.Decoded))
}
