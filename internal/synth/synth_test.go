package synth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/piconet"
	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/source"
)

func runAll(t *testing.T, cfg sniffer.Config, sc Scenario, obs sniffer.Observer) *sniffer.Sniffer {
	t.Helper()
	s := sniffer.New(cfg, sniffer.Deps{Observer: obs})
	r := sniffer.NewRunner(s)
	require.NoError(t, r.Run(context.Background(), New(sc)))
	return s
}

func TestGeneratorDiscovery(t *testing.T) {
	cfg := sniffer.DefaultConfig()
	cfg.LowEnergy = false
	sc := Scenario{Devices: []Device{{LAP: 0x7a8b9c, UAP: 0x6b, ClockOffset: 0x2a}}, Slots: 40}

	s := runAll(t, cfg, sc, nil)

	pn, ok := s.Piconet(0x7a8b9c)
	require.True(t, ok)
	assert.Equal(t, piconet.Tracking, pn.State())
	uap, ok := pn.UAP()
	require.True(t, ok)
	assert.Equal(t, uint8(0x6b), uap)

	st := s.Stats()
	assert.Equal(t, uint64(40), st.Slots)
	assert.Equal(t, uint64(1), st.Discoveries)
	assert.Zero(t, st.ClockLosses)
}

func TestGeneratorInquiry(t *testing.T) {
	cfg := sniffer.DefaultConfig()
	cfg.LowEnergy = false
	d := Device{LAP: 0x123456, UAP: 0x9a, NAP: 0xbeef, ClockOffset: 0x1000, Inquiry: true}

	s := runAll(t, cfg, Scenario{Devices: []Device{d}, Slots: 8}, nil)

	assert.Equal(t, uint64(1), s.Stats().InquiryFHS)
	pn, ok := s.Piconet(0x123456)
	require.True(t, ok)
	assert.Equal(t, piconet.Tracking, pn.State())
	nap, ok := pn.NAP()
	require.True(t, ok)
	assert.Equal(t, uint16(0xbeef), nap)
	off, ok := pn.Offset()
	require.True(t, ok)
	assert.Equal(t, uint32(0x1000), off)
}

func TestGeneratorAdvertisers(t *testing.T) {
	cfg := sniffer.DefaultConfig()
	cfg.Classic = false
	addr := btle.Address{1, 2, 3, 4, 5, 6}
	sc := Scenario{Advertisers: []Advertiser{{Address: addr, Name: "tag"}}, AdvertEvery: 1, Slots: 3}

	var events []sniffer.Event
	s := runAll(t, cfg, sc, sniffer.ObserverFunc(func(e sniffer.Event) { events = append(events, e) }))

	assert.Equal(t, uint64(3), s.Stats().LEDecoded)
	require.Len(t, events, 3)
	le, ok := events[0].Packet.(sniffer.LEPacket)
	require.True(t, ok)
	adv, err := le.Advertisement()
	require.NoError(t, err)
	assert.Equal(t, addr, adv.AdvA)
	assert.True(t, adv.Random)
	assert.Equal(t, "tag", adv.Name)
}

func TestReadSlotBounds(t *testing.T) {
	g := New(Scenario{Slots: 2})
	for i := 0; i < 2; i++ {
		slot, err := g.ReadSlot(context.Background())
		require.NoError(t, err)
		assert.Len(t, slot.Samples, SlotSymbols)
		assert.Equal(t, ClassicFreqMHz, slot.CenterFreqMHz)
	}
	_, err := g.ReadSlot(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, g.Generated())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(Scenario{}).ReadSlot(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSamples(t *testing.T) {
	assert.Equal(t, []byte{0x7f, 0x7f, 0x81, 0x81}, Samples([]byte{1, 0}, 2))
}

func TestScenarioThroughPCAP(t *testing.T) {
	sc := DefaultScenario()
	sc.Slots = 12

	var buf bytes.Buffer
	w, err := source.NewPCAPWriter(&buf, source.DefaultUDPPort, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	g := New(sc)
	var want []sniffer.Slot
	for {
		slot, err := g.ReadSlot(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NoError(t, w.WriteSlot(slot))
		want = append(want, slot)
	}

	src, err := source.NewPCAPSource(&buf, source.DefaultUDPPort)
	require.NoError(t, err)
	var got []sniffer.Slot
	for {
		slot, err := src.ReadSlot(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, slot)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replayed slots mismatch (-want +got):\n%s", diff)
	}
}
