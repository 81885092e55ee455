//go:build !pcap
// +build !pcap

package source

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/btsniff/internal/sniffer"
)

// LiveSource is unavailable without libpcap.
type LiveSource struct{}

// OpenLive is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable live capture.
func OpenLive(iface string, port int, offline bool) (*LiveSource, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable live capture")
}

func (s *LiveSource) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	return sniffer.Slot{}, io.EOF
}

func (s *LiveSource) Close() error { return nil }
