package sniffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// SlotSource yields demodulated slots. ReadSlot returns io.EOF when a finite
// source is exhausted.
type SlotSource interface {
	ReadSlot(ctx context.Context) (Slot, error)
}

// Runner feeds a Sniffer from a SlotSource and lets other goroutines take
// snapshots between slots.
type Runner struct {
	mu sync.Mutex
	s  *Sniffer
}

func NewRunner(s *Sniffer) *Runner {
	return &Runner{s: s}
}

// ProcessSlot processes one slot under the runner lock.
func (r *Runner) ProcessSlot(slot Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.ProcessSlot(slot)
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Snapshot()
}

func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Stats()
}

// Run processes slots until the source is exhausted or ctx is cancelled,
// both of which return nil. A source error or a fatal invariant violation
// ends the capture session with an error.
func (r *Runner) Run(ctx context.Context, src SlotSource) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		slot, err := src.ReadSlot(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read slot: %w", err)
		}
		if _, err := r.ProcessSlot(slot); err != nil {
			return fmt.Errorf("capture session aborted: %w", err)
		}
	}
}
