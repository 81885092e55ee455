package sink

import (
	"github.com/hashicorp/go-multierror"

	"github.com/banshee-data/btsniff/internal/sniffer"
)

// Multi delivers each frame to every sink and reports all failures.
type Multi []sniffer.Sink

func (m Multi) Deliver(dst uint64, payload []byte, etherType uint16) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Deliver(dst, payload, etherType); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Deliver(uint64, []byte, uint16) error { return nil }
