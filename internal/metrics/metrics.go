// Package metrics exposes sniffer counters and piconet state to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/btsniff/internal/sniffer"
)

const namespace = "btsniff"

// Sources are read on every scrape. Nil funcs are skipped.
type Sources struct {
	Snapshot         func() sniffer.Snapshot
	ForwarderDropped func() uint64
	Devices          func() int
	Subscribers      func() int
}

// Metrics owns a private registry so tests and multiple runners do not
// collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry
}

// New registers collectors for src.
func New(src Sources) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if src.Snapshot != nil {
		if err := reg.Register(&snapshotCollector{snapshot: src.Snapshot}); err != nil {
			return nil, fmt.Errorf("register sniffer collector: %w", err)
		}
	}
	if src.ForwarderDropped != nil {
		err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "dropped_total",
			Help:      "Frames dropped because the forward queue was full.",
		}, func() float64 { return float64(src.ForwarderDropped()) }))
		if err != nil {
			return nil, err
		}
	}
	if src.Devices != nil {
		err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "devices",
			Help:      "Devices currently tracked.",
		}, func() float64 { return float64(src.Devices()) }))
		if err != nil {
			return nil, err
		}
	}
	if src.Subscribers != nil {
		err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "subscribers",
			Help:      "Live feed subscribers.",
		}, func() float64 { return float64(src.Subscribers()) }))
		if err != nil {
			return nil, err
		}
	}
	return &Metrics{Registry: reg}, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type counter struct {
	desc *prometheus.Desc
	get  func(sniffer.Stats) uint64
}

func newCounter(name, help string, get func(sniffer.Stats) uint64) counter {
	return counter{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sniffer", name), help, nil, nil),
		get:  get,
	}
}

var counters = []counter{
	newCounter("slots_total", "Slots processed.", func(s sniffer.Stats) uint64 { return s.Slots }),
	newCounter("classic_hits_total", "Classic access code detections.", func(s sniffer.Stats) uint64 { return s.ClassicHits }),
	newCounter("le_hits_total", "LE access address detections.", func(s sniffer.Stats) uint64 { return s.LEHits }),
	newCounter("duplicates_total", "Detections suppressed as duplicates.", func(s sniffer.Stats) uint64 { return s.Duplicates }),
	newCounter("id_packets_total", "Access codes without a header.", func(s sniffer.Stats) uint64 { return s.IDPackets }),
	newCounter("decoded_total", "Classic packets decoded.", func(s sniffer.Stats) uint64 { return s.Decoded }),
	newCounter("crc_failed_total", "Classic packets failing HEC or CRC.", func(s sniffer.Stats) uint64 { return s.CRCFailed }),
	newCounter("discoveries_total", "UAP and clock discoveries.", func(s sniffer.Stats) uint64 { return s.Discoveries }),
	newCounter("clock_losses_total", "Tracking piconets that lost the clock.", func(s sniffer.Stats) uint64 { return s.ClockLosses }),
	newCounter("gave_up_total", "Backlog packets abandoned after discovery.", func(s sniffer.Stats) uint64 { return s.GaveUp }),
	newCounter("backlog_dropped_total", "Packets evicted from full backlogs.", func(s sniffer.Stats) uint64 { return s.BacklogDropped }),
	newCounter("fhs_total", "FHS packets applied to a piconet.", func(s sniffer.Stats) uint64 { return s.FHS }),
	newCounter("inquiry_fhs_total", "FHS packets decoded on an inquiry access code.", func(s sniffer.Stats) uint64 { return s.InquiryFHS }),
	newCounter("le_decoded_total", "LE packets with a valid CRC.", func(s sniffer.Stats) uint64 { return s.LEDecoded }),
	newCounter("le_crc_failed_total", "LE packets failing CRC.", func(s sniffer.Stats) uint64 { return s.LECRCFailed }),
	newCounter("connections_total", "CONNECT_IND requests followed.", func(s sniffer.Stats) uint64 { return s.Connections }),
	newCounter("deliver_errors_total", "Sink delivery failures.", func(s sniffer.Stats) uint64 { return s.DeliverErrors }),
}

var (
	piconetsDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "piconet", "count"),
		"Piconet records by kind and state.", []string{"kind", "state"}, nil)
	backlogDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "piconet", "backlog"),
		"Queued packets awaiting discovery.", []string{"kind", "address"}, nil)
)

// snapshotCollector takes one sniffer snapshot per scrape.
type snapshotCollector struct {
	snapshot func() sniffer.Snapshot
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, ctr := range counters {
		ch <- ctr.desc
	}
	ch <- piconetsDesc
	ch <- backlogDesc
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()
	for _, ctr := range counters {
		ch <- prometheus.MustNewConstMetric(ctr.desc, prometheus.CounterValue, float64(ctr.get(snap.Stats)))
	}

	states := map[[2]string]int{
		{"br", "discovering"}: 0,
		{"br", "tracking"}:    0,
		{"le", "discovering"}: 0,
		{"le", "tracking"}:    0,
	}
	for _, pn := range snap.Classic {
		states[[2]string{"br", pn.State}]++
		if pn.BacklogLen > 0 {
			ch <- prometheus.MustNewConstMetric(backlogDesc, prometheus.GaugeValue, float64(pn.BacklogLen), "br", fmt.Sprintf("%06x", pn.LAP))
		}
	}
	for _, pn := range snap.LowEnergy {
		states[[2]string{"le", pn.State}]++
		if pn.BacklogLen > 0 {
			ch <- prometheus.MustNewConstMetric(backlogDesc, prometheus.GaugeValue, float64(pn.BacklogLen), "le", fmt.Sprintf("%08x", pn.AccessAddress))
		}
	}
	for k, n := range states {
		ch <- prometheus.MustNewConstMetric(piconetsDesc, prometheus.GaugeValue, float64(n), k[0], k[1])
	}
}
