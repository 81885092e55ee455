// Package synth generates demodulated slots carrying well formed Basic Rate
// and Low Energy traffic. The output feeds the sniffer without a radio, for
// tests, demos and capture files.
package synth

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

const (
	// SlotSymbols covers one 625µs slot plus some overlap into the next.
	SlotSymbols = 700

	ClassicFreqMHz = 2441
	AdvertFreqMHz  = 2402

	// packetStart is the symbol offset of every packet within its slot.
	packetStart = 20
)

// Device is a Basic Rate master transmitting on its own piconet.
type Device struct {
	LAP         uint32 `json:"lap"`
	UAP         uint8  `json:"uap"`
	NAP         uint16 `json:"nap"`
	ClockOffset uint32 `json:"clock_offset"` // piconet clock minus the slot index

	// Inquiry makes the device answer an inquiry with an FHS before its
	// first piconet packet.
	Inquiry bool `json:"inquiry"`
}

// Advertiser sends connectable undirected advertisements on channel 37.
type Advertiser struct {
	Address btle.Address `json:"address"`
	Name    string       `json:"name"`
}

// Scenario describes what the generator transmits.
type Scenario struct {
	Devices     []Device     `json:"devices"`
	Advertisers []Advertiser `json:"advertisers"`

	// AdvertEvery puts an advertisement in one slot of every AdvertEvery.
	// Zero disables advertising.
	AdvertEvery      int `json:"advert_every"`
	SamplesPerSymbol int `json:"samples_per_symbol"`

	// Slots bounds ReadSlot. Zero means unbounded.
	Slots int `json:"slots"`
}

// DefaultScenario is two piconets, one of which was seen being paged, and a
// single advertiser.
func DefaultScenario() Scenario {
	return Scenario{
		Devices: []Device{
			{LAP: 0x7a8b9c, UAP: 0x6b, NAP: 0x0002, ClockOffset: 0x2a},
			{LAP: 0x9e8b33, UAP: 0x5d, NAP: 0xbeef, ClockOffset: 0x1000, Inquiry: true},
		},
		Advertisers: []Advertiser{
			{Address: btle.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0xc6}, Name: "btsniff-tag"},
		},
		AdvertEvery:      5,
		SamplesPerSymbol: 2,
		Slots:            400,
	}
}

// cycle is the order of packet types each device sends.
var cycle = [...]btbb.PacketType{btbb.TypeDM1, btbb.TypeDH1, btbb.TypePOLL, btbb.TypeNULL}

type deviceState struct {
	sent     int
	inquired bool
}

// Generator produces one slot per call. It is not safe for concurrent use.
type Generator struct {
	sc      Scenario
	slot    uint32
	turn    int
	advTurn int
	devices []deviceState
}

// New returns a generator for sc.
func New(sc Scenario) *Generator {
	if sc.SamplesPerSymbol <= 0 {
		sc.SamplesPerSymbol = 1
	}
	return &Generator{sc: sc, devices: make([]deviceState, len(sc.Devices))}
}

// Generated returns the number of slots produced so far.
func (g *Generator) Generated() int { return int(g.slot) }

// ReadSlot implements sniffer.SlotSource. It returns io.EOF once the
// scenario's slot count is reached.
func (g *Generator) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	if err := ctx.Err(); err != nil {
		return sniffer.Slot{}, err
	}
	if g.sc.Slots > 0 && int(g.slot) >= g.sc.Slots {
		return sniffer.Slot{}, io.EOF
	}
	return g.Next()
}

// Next produces the next slot regardless of the slot bound.
func (g *Generator) Next() (sniffer.Slot, error) {
	n := g.slot
	g.slot++

	if g.sc.AdvertEvery > 0 && len(g.sc.Advertisers) > 0 && int(n)%g.sc.AdvertEvery == g.sc.AdvertEvery-1 {
		a := g.sc.Advertisers[g.advTurn%len(g.sc.Advertisers)]
		g.advTurn++
		symbols, err := advertisement(a)
		if err != nil {
			return sniffer.Slot{}, err
		}
		return g.slotOf(symbols, AdvertFreqMHz), nil
	}

	if len(g.sc.Devices) == 0 {
		return g.slotOf(nil, ClassicFreqMHz), nil
	}
	i := g.turn % len(g.sc.Devices)
	g.turn++
	d, st := g.sc.Devices[i], &g.devices[i]
	clock := (n + d.ClockOffset) & btbb.CLOCK_MASK

	var symbols []byte
	var err error
	// The FHS clock field drops bit zero, so only an even piconet clock
	// reproduces the offset exactly.
	if d.Inquiry && !st.inquired && clock%2 == 0 {
		st.inquired = true
		symbols, err = inquiryResponse(d, clock)
	} else {
		typ := cycle[st.sent%len(cycle)]
		var data []byte
		if typ == btbb.TypeDM1 || typ == btbb.TypeDH1 {
			data = []byte(fmt.Sprintf("%06x #%d", d.LAP, st.sent))
		}
		st.sent++
		symbols, err = btbb.Build(btbb.PacketSpec{
			LAP:    d.LAP,
			UAP:    d.UAP,
			Clock:  clock,
			Header: btbb.Header{LTAddr: 1, Type: typ, Flow: true},
			LLID:   2,
			Flow:   true,
			Data:   data,
		})
	}
	if err != nil {
		return sniffer.Slot{}, fmt.Errorf("build packet for %06x: %w", d.LAP, err)
	}
	return g.slotOf(symbols, ClassicFreqMHz), nil
}

func inquiryResponse(d Device, clock uint32) ([]byte, error) {
	fhs := btbb.FHS{
		LAP:           d.LAP,
		UAP:           d.UAP,
		NAP:           d.NAP,
		ClassOfDevice: 0x5a020c,
		LTAddr:        1,
		Clock:         clock >> 1,
	}
	return btbb.Build(btbb.PacketSpec{
		LAP:    btbb.GIAC,
		UAP:    btbb.DCI,
		Clock:  clock,
		Header: btbb.Header{LTAddr: 1, Type: btbb.TypeFHS, Flow: true},
		Data:   fhs.Bytes(),
	})
}

func advertisement(a Advertiser) ([]byte, error) {
	ch, err := btle.ChannelIndex(AdvertFreqMHz)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), a.Address[:]...)
	payload = btle.ADStructures(payload).AppendField(btle.ADFlags, []byte{0x06})
	if a.Name != "" {
		payload = btle.ADStructures(payload).AppendField(btle.ADCompleteName, []byte(a.Name))
	}
	// TxAdd marks a random address.
	header := [2]byte{byte(btle.ADV_IND) | 0x40}
	return btle.Build(btle.AdvertisingAccessAddress, ch, btle.AdvertisingCRCInit, header, payload)
}

func (g *Generator) slotOf(symbols []byte, freqMHz int) sniffer.Slot {
	buf := make([]byte, SlotSymbols)
	if len(symbols) > 0 {
		copy(buf[packetStart:], symbols)
	}
	return sniffer.Slot{
		Samples:          Samples(buf, g.sc.SamplesPerSymbol),
		SamplesPerSymbol: g.sc.SamplesPerSymbol,
		CenterFreqMHz:    freqMHz,
	}
}

// Samples maps hard symbols onto signed soft samples, sps per symbol.
// A one becomes +127 and a zero -127.
func Samples(symbols []byte, sps int) []byte {
	out := make([]byte, 0, len(symbols)*sps)
	for _, b := range symbols {
		v := byte(0x81)
		if b == 1 {
			v = 0x7f
		}
		for i := 0; i < sps; i++ {
			out = append(out, v)
		}
	}
	return out
}
