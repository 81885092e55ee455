package monitor

import (
	"bytes"
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/btsniff/internal/tracker"
)

const defaultChartDevices = 50

// handleLAPChart renders packets per device as a bar chart, busiest first.
// Query params:
//   - limit (optional; default 50) caps the number of bars
func (s *Server) handleLAPChart(w http.ResponseWriter, r *http.Request) {
	limit := defaultChartDevices
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	devices := s.cfg.Devices.Devices()
	slices.SortStableFunc(devices, func(a, b tracker.Device) int {
		return cmp.Compare(b.Packets, a.Packets)
	})
	if len(devices) > limit {
		devices = devices[:limit]
	}

	labels := make([]string, 0, len(devices))
	classic := make([]opts.BarData, 0, len(devices))
	le := make([]opts.BarData, 0, len(devices))
	for _, d := range devices {
		label := d.Address
		if d.Kind == tracker.KindClassic {
			label = fmt.Sprintf("%06x", d.LAP)
		}
		labels = append(labels, label)
		// One series per kind so the legend separates them.
		if d.Kind == tracker.KindClassic {
			classic = append(classic, opts.BarData{Value: d.Packets})
			le = append(le, opts.BarData{Value: nil})
		} else {
			classic = append(classic, opts.BarData{Value: nil})
			le = append(le, opts.BarData{Value: d.Packets})
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "btsniff devices", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Packets per device", Subtitle: fmt.Sprintf("devices=%d", len(devices))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "device"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "packets"}),
	)
	bar.SetXAxis(labels).
		AddSeries("classic", classic).
		AddSeries("le", le, charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
