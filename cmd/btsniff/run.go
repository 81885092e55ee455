package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btsniff/internal/config"
	"github.com/banshee-data/btsniff/internal/metrics"
	"github.com/banshee-data/btsniff/internal/monitor"
	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/sink"
	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/tracker"
)

// capture wires one slot source through the sniffer into the configured
// sinks, the device tracker and the monitoring server, and runs until the
// source ends or the process is signalled.
func capture(cmd *cobra.Command, cfg *config.SnifferConfig, src sniffer.SlotSource, label string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks sink.Multi
	if path := cfg.GetPCAPOut(); path != "" {
		pcapSink, err := sink.CreatePCAPFile(path, cfg.GetSourceMAC())
		if err != nil {
			return err
		}
		defer func() {
			if err := pcapSink.Close(); err != nil {
				monitoring.Logf("failed to close %s: %v", path, err)
			}
			monitoring.Logf("Wrote %d frames to %s", pcapSink.Count(), path)
		}()
		sinks = append(sinks, pcapSink)
	}
	var fwd *sink.Forwarder
	if addr := cfg.GetForwardAddr(); addr != "" {
		var err error
		fwd, err = sink.NewForwarder(addr, cfg.GetSourceMAC(), cfg.GetForwardLogInterval())
		if err != nil {
			return err
		}
		defer fwd.Close()
		fwd.Start(ctx)
		sinks = append(sinks, fwd)
	}

	trackerCfg := tracker.Config{FlushInterval: cfg.GetFlushInterval()}
	var store *tracker.Store
	var session tracker.Session
	if path := cfg.GetDBPath(); path != "" {
		var err error
		store, err = tracker.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()
		session, err = store.StartSession(ctx, label)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		monitoring.Logf("Recording session %s in %s", session.ID, path)
		trackerCfg.Store = store
		trackerCfg.Session = session.ID
	}
	trk := tracker.New(trackerCfg)
	defer trk.Close()

	deps := sniffer.Deps{Sink: sink.Discard{}, Observer: trk}
	if len(sinks) > 0 {
		deps.Sink = sinks
	}
	runner := sniffer.NewRunner(sniffer.New(cfg.SnifferOptions(), deps))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := trk.Run(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("tracker stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	if noHTTP, _ := cmd.Flags().GetBool("no-http"); !noHTTP {
		srv, err := newMonitor(cfg, runner, trk, store, fwd)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				serveErr <- err
				cancel()
			}
		}()
	}

	start := time.Now()
	monitoring.Logf("Capturing from %s", label)
	runErr := runner.Run(ctx, src)
	cancel()
	wg.Wait()

	st := runner.Stats()
	monitoring.Logf("Processed %d slots in %s: %d classic decoded, %d LE decoded, %d discoveries, %d clock losses",
		st.Slots, time.Since(start).Round(time.Millisecond), st.Decoded, st.LEDecoded, st.Discoveries, st.ClockLosses)

	if store != nil {
		if err := store.EndSession(context.WithoutCancel(ctx), session.ID, st); err != nil {
			monitoring.Logf("failed to end session %s: %v", session.ID, err)
		}
	}

	select {
	case err := <-serveErr:
		return err
	default:
	}
	return runErr
}

func newMonitor(cfg *config.SnifferConfig, runner *sniffer.Runner, trk *tracker.Tracker, store *tracker.Store, fwd *sink.Forwarder) (*monitor.Server, error) {
	src := metrics.Sources{
		Snapshot:    runner.Snapshot,
		Devices:     func() int { return len(trk.Devices()) },
		Subscribers: trk.Hub().Len,
	}
	if fwd != nil {
		src.ForwarderDropped = fwd.Dropped
	}
	m, err := metrics.New(src)
	if err != nil {
		return nil, err
	}

	mc := monitor.Config{
		Address: cfg.GetListen(),
		Sniffer: runner,
		Devices: trk,
		Metrics: m,
	}
	if store != nil {
		mc.Admin = store
	}
	return monitor.New(mc)
}
