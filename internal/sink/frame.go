// Package sink delivers decoded classic traffic to PCAP files and UDP
// collectors as Ethernet frames, the way a TUN interface would present it
// to a capture tool.
package sink

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DefaultSourceMAC is the source address stamped on every frame.
var DefaultSourceMAC = net.HardwareAddr{0x02, 0x62, 0x74, 0x62, 0x62, 0x00}

// MAC converts a 48-bit pseudo address (NAP<<32 | UAP<<24 | LAP) into a
// hardware address with the NAP first.
func MAC(addr uint64) net.HardwareAddr {
	return net.HardwareAddr{
		byte(addr >> 40), byte(addr >> 32), byte(addr >> 24),
		byte(addr >> 16), byte(addr >> 8), byte(addr),
	}
}

// EncodeFrame builds an Ethernet frame carrying payload. Short frames are
// padded to the Ethernet minimum.
func EncodeFrame(src net.HardwareAddr, dst uint64, etherType uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       MAC(dst),
		EthernetType: layers.EthernetType(etherType),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame for %012x: %w", dst, err)
	}
	return buf.Bytes(), nil
}
