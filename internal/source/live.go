//go:build pcap
// +build pcap

package source

import (
	"context"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

// LiveSource captures slot datagrams from a network interface with libpcap.
// It is useful when another process already owns the UDP port.
type LiveSource struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
	port   int
}

// OpenLive opens iface (or a capture file when offline is true) and
// installs a BPF filter for the slot port. Only available when built with
// the 'pcap' tag.
func OpenLive(iface string, port int, offline bool) (*LiveSource, error) {
	var (
		handle *pcap.Handle
		err    error
	)
	if offline {
		handle, err = pcap.OpenOffline(iface)
	} else {
		handle, err = pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}
	if port == 0 {
		port = DefaultUDPPort
	}
	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filter, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filter)
	return &LiveSource{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
		port:   port,
	}, nil
}

// ReadSlot returns the next decodable slot datagram.
func (s *LiveSource) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	for {
		select {
		case <-ctx.Done():
			return sniffer.Slot{}, ctx.Err()
		case packet, ok := <-s.source.Packets():
			if !ok || packet == nil {
				return sniffer.Slot{}, io.EOF
			}
			payload := udpPayload(packet, s.port)
			if len(payload) == 0 {
				continue
			}
			slot, err := DecodeSlot(payload)
			if err != nil {
				monitoring.Debugf("live capture: %v", err)
				continue
			}
			return slot, nil
		}
	}
}

func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
