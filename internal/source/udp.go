package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

// UDPSourceConfig configures a UDPSource.
type UDPSourceConfig struct {
	Address string // listen address, e.g. ":5555"
	RcvBuf  int
	Factory UDPSocketFactory
}

// UDPSource receives one slot frame per datagram.
type UDPSource struct {
	conn     UDPSocket
	buffer   []byte
	rejected int
}

// ListenUDP opens the socket described by cfg.
func ListenUDP(cfg UDPSourceConfig) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	factory := cfg.Factory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	conn, err := factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("UDP slot source listening on %s", conn.LocalAddr())
	return &UDPSource{conn: conn, buffer: make([]byte, frameHeaderSize+MaxFrameSamples)}, nil
}

// ReadSlot blocks until a valid frame arrives or ctx is done. Malformed
// datagrams are logged and skipped.
func (s *UDPSource) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sniffer.Slot{}, err
		}
		// Short deadline so cancellation is noticed.
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := s.conn.ReadFromUDP(s.buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return sniffer.Slot{}, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return sniffer.Slot{}, err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		slot, err := DecodeSlot(s.buffer[:n])
		if err != nil {
			s.rejected++
			monitoring.Debugf("dropping datagram from %v: %v", addr, err)
			continue
		}
		return slot, nil
	}
}

// Rejected returns the number of malformed datagrams skipped.
func (s *UDPSource) Rejected() int { return s.rejected }

func (s *UDPSource) Close() error { return s.conn.Close() }
