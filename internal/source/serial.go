package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

// PortOptions describes the serial link to the front end.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 3000000
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

type frameResult struct {
	slot sniffer.Slot
	err  error
}

// StreamSource reads back-to-back slot frames from a byte stream such as a
// serial port. It resynchronises on the frame magic after corruption.
type StreamSource struct {
	r       *bufio.Reader
	closer  io.Closer
	frames  chan frameResult
	started bool
	skipped atomic.Int64
}

// NewStreamSource wraps r. If r is also an io.Closer, Close closes it.
func NewStreamSource(r io.Reader) *StreamSource {
	s := &StreamSource{
		r:      bufio.NewReaderSize(r, frameHeaderSize+MaxFrameSamples),
		frames: make(chan frameResult),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenSerial opens the port at path and returns a stream source over it.
func OpenSerial(path string, opts PortOptions) (*StreamSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	monitoring.Logf("serial slot source on %s at %d baud", path, mode.BaudRate)
	return NewStreamSource(port), nil
}

// next reads one frame, discarding bytes until the magic lines up.
func (s *StreamSource) next() (sniffer.Slot, error) {
	for {
		header, err := s.r.Peek(frameHeaderSize)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || (err == io.EOF && len(header) > 0) {
				return sniffer.Slot{}, io.EOF
			}
			return sniffer.Slot{}, err
		}
		size, err := FrameSize(header)
		if err != nil {
			s.r.Discard(1)
			s.skipped.Add(1)
			continue
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(s.r, frame); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return sniffer.Slot{}, io.EOF
			}
			return sniffer.Slot{}, err
		}
		slot, err := DecodeSlot(frame)
		if err != nil {
			monitoring.Debugf("dropping stream frame: %v", err)
			s.skipped.Add(1)
			continue
		}
		return slot, nil
	}
}

// ReadSlot returns the next frame. The blocking read runs on its own
// goroutine so ctx cancellation is honoured.
func (s *StreamSource) ReadSlot(ctx context.Context) (sniffer.Slot, error) {
	if !s.started {
		s.started = true
		go s.pump(ctx)
	}
	select {
	case <-ctx.Done():
		return sniffer.Slot{}, ctx.Err()
	case res := <-s.frames:
		return res.slot, res.err
	}
}

func (s *StreamSource) pump(ctx context.Context) {
	for {
		slot, err := s.next()
		select {
		case s.frames <- frameResult{slot, err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Skipped returns the number of bytes or frames discarded while resyncing.
func (s *StreamSource) Skipped() int { return int(s.skipped.Load()) }

func (s *StreamSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
