package sink

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/btsniff/internal/timeutil"
)

const snapLen = 65536

// PCAPSink writes every delivered frame to a pcap stream with Ethernet link
// type.
type PCAPSink struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	src    net.HardwareAddr
	clock  timeutil.Clock
	count  int
}

// NewPCAPSink writes the pcap file header to w. A nil clock uses the wall
// clock for capture timestamps.
func NewPCAPSink(w io.Writer, src net.HardwareAddr, clock timeutil.Clock) (*PCAPSink, error) {
	if src == nil {
		src = DefaultSourceMAC
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	s := &PCAPSink{w: pw, src: src, clock: clock}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// CreatePCAPFile creates path and returns a sink writing to it.
func CreatePCAPFile(path string, src net.HardwareAddr) (*PCAPSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap %s: %w", path, err)
	}
	s, err := NewPCAPSink(f, src, nil)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *PCAPSink) Deliver(dst uint64, payload []byte, etherType uint16) error {
	frame, err := EncodeFrame(s.src, dst, etherType, payload)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     s.clock.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write pcap frame: %w", err)
	}
	s.count++
	return nil
}

// Count returns the number of frames written.
func (s *PCAPSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close closes the underlying writer if it is a Closer.
func (s *PCAPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
