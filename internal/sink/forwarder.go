package sink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/btsniff/internal/monitoring"
)

// Forwarder sends frames to a UDP collector without blocking the decode
// loop. Frames that do not fit in the queue are dropped and counted.
type Forwarder struct {
	conn        io.WriteCloser
	channel     chan []byte
	src         net.HardwareAddr
	logInterval time.Duration
	address     string

	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

const forwardQueue = 1000

// NewForwarder dials addr ("host:port") over UDP.
func NewForwarder(addr string, src net.HardwareAddr, logInterval time.Duration) (*Forwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return NewForwarderConn(conn, addr, src, logInterval), nil
}

// NewForwarderConn forwards over an existing connection.
func NewForwarderConn(conn io.WriteCloser, addr string, src net.HardwareAddr, logInterval time.Duration) *Forwarder {
	if src == nil {
		src = DefaultSourceMAC
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueue),
		src:         src,
		logInterval: logInterval,
		address:     addr,
	}
}

// Start runs the send loop until ctx is cancelled. Write failures are
// summarised once per log interval.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(frame); err != nil {
					failed++
					lastError = err
					f.failed.Add(1)
					continue
				}
				f.sent.Add(1)
			case <-ticker.C:
				if failed > 0 && lastError != nil {
					monitoring.Logf("Dropped %d forwarded frames due to errors (latest: %v)", failed, lastError)
					failed = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding decoded frames to %s", f.address)
}

// Deliver frames the payload and queues it. It only fails when the frame
// cannot be encoded; a full queue drops the frame silently.
func (f *Forwarder) Deliver(dst uint64, payload []byte, etherType uint16) error {
	frame, err := EncodeFrame(f.src, dst, etherType, payload)
	if err != nil {
		return err
	}
	select {
	case f.channel <- frame:
	default:
		f.dropped.Add(1)
	}
	return nil
}

// Dropped returns frames lost to a full queue.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Sent returns frames written to the connection.
func (f *Forwarder) Sent() uint64 { return f.sent.Load() }

// Failed returns frames whose write returned an error.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }

// Close stops accepting frames and closes the connection.
func (f *Forwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
