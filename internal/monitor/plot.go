package monitor

import (
	"fmt"
	"net/http"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/btsniff/internal/monitoring"
)

const maxHistogramBins = 20

// handlePacketHistogram renders the distribution of packets per tracked
// device as a PNG.
func (s *Server) handlePacketHistogram(w http.ResponseWriter, r *http.Request) {
	var values plotter.Values
	for _, d := range s.cfg.Devices.Devices() {
		values = append(values, float64(d.Packets))
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Packets per device (devices=%d)", len(values))
	p.X.Label.Text = "packets"
	p.Y.Label.Text = "devices"

	// A histogram needs a non-empty range to bin over.
	if len(values) > 1 && slices.Min(values) < slices.Max(values) {
		h, err := plotter.NewHist(values, min(len(values), maxHistogramBins))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to bin packets: %v", err))
			return
		}
		p.Add(h)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("failed to write histogram: %v", err)
	}
}
