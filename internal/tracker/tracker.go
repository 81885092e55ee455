// Package tracker keeps one record per observed device and pushes changes to
// subscribers and an optional SQLite store.
//
// Classic devices are keyed by LAP; UAP and NAP are filled in as the
// sniffer learns them. LE devices are keyed by advertiser address.
package tracker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/timeutil"
)

// Kind distinguishes classic and LE devices.
type Kind string

const (
	KindClassic   Kind = "br"
	KindLowEnergy Kind = "le"
)

const DefaultFlushInterval = time.Second

// Device is the tracked state of one device.
type Device struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	LAP       uint32    `json:"lap,omitempty"`
	UAP       *uint8    `json:"uap,omitempty"`
	NAP       *uint16   `json:"nap,omitempty"`
	Address   string    `json:"address,omitempty"`
	Name      string    `json:"name,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Packets   uint64    `json:"packets"`
}

// BDAddr formats NAP:UAP:LAP once all three are known.
func (d Device) BDAddr() (string, bool) {
	if d.UAP == nil || d.NAP == nil {
		return "", false
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		*d.NAP>>8, *d.NAP&0xff, *d.UAP, d.LAP>>16&0xff, d.LAP>>8&0xff, d.LAP&0xff), true
}

type record struct {
	Device
	dirty bool
}

// Persister stores flushed device records.
type Persister interface {
	UpsertDevices(ctx context.Context, session string, devices []Device) error
}

// Config configures a Tracker.
type Config struct {
	Clock         timeutil.Clock
	FlushInterval time.Duration
	Store         Persister
	Session       string
}

// Tracker implements sniffer.Observer.
type Tracker struct {
	mu       sync.Mutex
	devices  map[string]*record
	hub      *Hub
	clock    timeutil.Clock
	interval time.Duration
	store    Persister
	session  string
}

var _ sniffer.Observer = (*Tracker)(nil)

func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Tracker{
		devices:  make(map[string]*record),
		hub:      NewHub(),
		clock:    cfg.Clock,
		interval: cfg.FlushInterval,
		store:    cfg.Store,
		session:  cfg.Session,
	}
}

// Observe records one packet. It never blocks on subscribers or storage.
func (t *Tracker) Observe(e sniffer.Event) {
	now := e.Time
	if now.IsZero() {
		now = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch p := e.Packet.(type) {
	case sniffer.ClassicPacket:
		r := t.touch(ClassicKey(p.LAP), KindClassic, now)
		r.LAP = p.LAP
		if pn := e.Piconet; pn != nil {
			if pn.UAP != nil {
				uap := *pn.UAP
				r.UAP = &uap
			}
			if pn.NAP != nil {
				nap := *pn.NAP
				r.NAP = &nap
			}
		}
		if addr, ok := r.BDAddr(); ok {
			r.Address = addr
		}
	case sniffer.LEPacket:
		adv, err := p.Advertisement()
		if err != nil {
			return
		}
		r := t.touch(LowEnergyKey(adv.AdvA), KindLowEnergy, now)
		r.Address = adv.AdvA.String()
		if adv.Name != "" {
			r.Name = adv.Name
		}
	}
}

func (t *Tracker) touch(key string, kind Kind, now time.Time) *record {
	r, ok := t.devices[key]
	if !ok {
		r = &record{Device: Device{Key: key, Kind: kind, FirstSeen: now}}
		t.devices[key] = r
		monitoring.Debugf("tracking new %s device %s", kind, strings.TrimPrefix(key, string(kind)+":"))
	}
	r.LastSeen = now
	r.Packets++
	r.dirty = true
	return r
}

// Devices returns every record sorted by key.
func (t *Tracker) Devices() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(false)
}

// Device returns the record for key.
func (t *Tracker) Device(key string) (Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.devices[key]
	if !ok {
		return Device{}, false
	}
	return r.copy(), true
}

func (t *Tracker) collect(dirtyOnly bool) []Device {
	out := make([]Device, 0, len(t.devices))
	for _, r := range t.devices {
		if dirtyOnly && !r.dirty {
			continue
		}
		out = append(out, r.copy())
		if dirtyOnly {
			r.dirty = false
		}
	}
	slices.SortFunc(out, func(a, b Device) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func (r *record) copy() Device {
	d := r.Device
	if r.UAP != nil {
		uap := *r.UAP
		d.UAP = &uap
	}
	if r.NAP != nil {
		nap := *r.NAP
		d.NAP = &nap
	}
	return d
}

// Flush publishes and persists records changed since the last flush and
// returns them.
func (t *Tracker) Flush(ctx context.Context) []Device {
	t.mu.Lock()
	dirty := t.collect(true)
	t.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	t.hub.Publish(Update{Type: UpdateDelta, Time: t.clock.Now(), Devices: dirty})
	if t.store != nil {
		if err := t.store.UpsertDevices(ctx, t.session, dirty); err != nil {
			monitoring.Logf("tracker: failed to persist %d devices: %v", len(dirty), err)
		}
	}
	return dirty
}

// Run flushes on every tick until ctx is cancelled; a final flush runs on
// the way out.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C():
			t.Flush(ctx)
		}
	}
}

// Subscribe registers a client. The first update on the channel is a full
// snapshot of every record.
func (t *Tracker) Subscribe() (string, <-chan Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hub.Subscribe(Update{Type: UpdateSnapshot, Time: t.clock.Now(), Devices: t.collect(false)})
}

func (t *Tracker) Unsubscribe(id string) { t.hub.Unsubscribe(id) }

// Close ends every subscription.
func (t *Tracker) Close() { t.hub.Close() }

// Hub exposes the subscriber hub for drop accounting.
func (t *Tracker) Hub() *Hub { return t.hub }

// ClassicKey is the record key of a classic device.
func ClassicKey(lap uint32) string { return fmt.Sprintf("br:%06x", lap) }

// LowEnergyKey is the record key of an LE advertiser.
func LowEnergyKey(a btle.Address) string { return "le:" + a.String() }
