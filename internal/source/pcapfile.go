package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

// DefaultUDPPort is the port the front end streams slot frames to.
const DefaultUDPPort = 5555

// PCAPSource replays slot frames from a classic pcap capture of the UDP
// stream. Datagrams to other ports are ignored.
type PCAPSource struct {
	r       *pcapgo.Reader
	closer  io.Closer
	port    int
	packets int
	slots   int
	started time.Time
	// Last is the capture timestamp of the most recent slot.
	Last time.Time
}

// NewPCAPSource reads from r. A port of 0 accepts any UDP port.
func NewPCAPSource(r io.Reader, port int) (*PCAPSource, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	s := &PCAPSource{r: pr, port: port, started: time.Now()}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// OpenPCAPFile opens path for replay.
func OpenPCAPFile(path string, port int) (*PCAPSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	s, err := NewPCAPSource(f, port)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// ReadSlot returns the next slot frame in the capture, or io.EOF.
func (s *PCAPSource) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sniffer.Slot{}, err
		}
		data, ci, err := s.r.ReadPacketData()
		if err == io.EOF {
			monitoring.Logf("PCAP file reading complete: %d packets, %d slots in %v", s.packets, s.slots, time.Since(s.started))
			return sniffer.Slot{}, io.EOF
		}
		if err != nil {
			return sniffer.Slot{}, fmt.Errorf("read pcap packet %d: %w", s.packets+1, err)
		}
		s.packets++

		payload := udpPayload(gopacket.NewPacket(data, s.r.LinkType(), gopacket.NoCopy), s.port)
		if len(payload) == 0 {
			continue
		}
		slot, err := DecodeSlot(payload)
		if err != nil {
			monitoring.Debugf("PCAP packet %d: %v", s.packets, err)
			continue
		}
		s.slots++
		s.Last = ci.Timestamp
		return slot, nil
	}
}

func (s *PCAPSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func udpPayload(packet gopacket.Packet, port int) []byte {
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil
	}
	if port != 0 && int(udp.DstPort) != port {
		return nil
	}
	return udp.Payload
}

// PCAPWriter records slot frames as Ethernet/IPv4/UDP datagrams so that a
// capture can be replayed with PCAPSource or inspected in Wireshark.
type PCAPWriter struct {
	w    *pcapgo.Writer
	port int
	ts   time.Time
	step time.Duration
	id   uint16
}

// NewPCAPWriter writes the file header. Each slot is stamped start plus
// 625us times its index.
func NewPCAPWriter(w io.Writer, port int, start time.Time) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	if port == 0 {
		port = DefaultUDPPort
	}
	return &PCAPWriter{w: pw, port: port, ts: start, step: 625 * time.Microsecond}, nil
}

// WriteSlot appends one slot.
func (p *PCAPWriter) WriteSlot(slot sniffer.Slot) error {
	frame, err := EncodeSlot(slot)
	if err != nil {
		return err
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x62, 0x74, 0x73, 0x6c, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x62, 0x74, 0x73, 0x6c, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       p.id,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 7, 2).To4(),
		DstIP:    net.IPv4(192, 168, 7, 1).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(p.port), DstPort: layers.UDPPort(p.port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(frame)); err != nil {
		return fmt.Errorf("serialize slot datagram: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: p.ts, CaptureLength: len(data), Length: len(data)}
	if err := p.w.WritePacket(ci, data); err != nil {
		return err
	}
	p.id++
	p.ts = p.ts.Add(p.step)
	return nil
}
