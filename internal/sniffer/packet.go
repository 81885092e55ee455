package sniffer

import (
	"time"

	"github.com/banshee-data/btsniff/internal/btbb"
	"github.com/banshee-data/btsniff/internal/btle"
	"github.com/banshee-data/btsniff/internal/piconet"
)

// Packet is either a ClassicPacket or an LEPacket. Consumers dispatch with a
// type switch; no other implementations exist.
type Packet interface {
	isPacket()
}

// ClassicPacket wraps a Basic Rate packet.
type ClassicPacket struct{ *btbb.Packet }

// LEPacket wraps a Low Energy packet.
type LEPacket struct{ *btle.Packet }

func (ClassicPacket) isPacket() {}
func (LEPacket) isPacket()      {}

// Event reports one observed packet after the driver handled it.
type Event struct {
	Time   time.Time
	CLKN   uint32
	Packet Packet
	// Piconet is the state of the owning classic piconet after the packet
	// was handled. It is nil for ID packets, inquiry packets and LE.
	Piconet *piconet.Snapshot
}

// Observer receives an Event for every packet. It is called synchronously
// from ProcessSlot and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// EtherType tags every frame handed to a Sink.
const EtherType uint16 = 0xFFF0

// Sink receives decoded classic traffic addressed by pseudo MAC. Payloads
// are the 9-byte metadata block followed by the packet payload; ID packets
// arrive with an empty payload addressed to the bare LAP. Errors are logged
// and counted, never fatal.
type Sink interface {
	Deliver(dst uint64, payload []byte, etherType uint16) error
}
