package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/btsniff/internal/source"
	"github.com/banshee-data/btsniff/internal/synth"
)

// writeSynthetic writes the scenario to path as a capture that the replay
// command reads back.
func writeSynthetic(path string, sc synth.Scenario) (int, error) {
	if sc.Slots <= 0 {
		return 0, fmt.Errorf("synthetic capture needs a slot count")
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w, err := source.NewPCAPWriter(f, source.DefaultUDPPort, time.Now())
	if err != nil {
		return 0, err
	}
	g := synth.New(sc)
	for {
		slot, err := g.ReadSlot(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return g.Generated(), err
		}
		if err := w.WriteSlot(slot); err != nil {
			return g.Generated(), fmt.Errorf("failed to write slot %d: %w", g.Generated(), err)
		}
	}
	return g.Generated(), f.Close()
}
