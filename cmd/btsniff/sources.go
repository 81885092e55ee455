package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btsniff/internal/monitoring"
	"github.com/banshee-data/btsniff/internal/source"
	"github.com/banshee-data/btsniff/internal/synth"
)

func listenEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Decodes slot frames received as UDP datagrams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			src, err := source.ListenUDP(source.UDPSourceConfig{
				Address: cfg.GetUDPAddr(),
				RcvBuf:  cfg.GetUDPRcvBuf(),
			})
			if err != nil {
				return err
			}
			defer func() {
				src.Close()
				if n := src.Rejected(); n > 0 {
					monitoring.Logf("Rejected %d malformed datagrams", n)
				}
			}()
			return capture(cmd, cfg, src, "udp:"+cfg.GetUDPAddr())
		},
	}
	cmd.Flags().String("udp", "", "UDP listen address (default :5555)")
	return cmd
}

func serialEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial <device>",
		Short: "Decodes slot frames streamed over a serial port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			src, err := source.OpenSerial(args[0], source.PortOptions{BaudRate: cfg.GetSerialBaud()})
			if err != nil {
				return err
			}
			defer func() {
				src.Close()
				if n := src.Skipped(); n > 0 {
					monitoring.Logf("Skipped %d bytes while resynchronising", n)
				}
			}()
			return capture(cmd, cfg, src, "serial:"+args[0])
		},
	}
	cmd.Flags().Int("baud", 0, "Serial baud rate (default 3000000)")
	return cmd
}

func replayEntry() *cobra.Command {
	var port int
	var live, offline bool

	cmd := &cobra.Command{
		Use:   "replay <file.pcap | interface>",
		Short: "Decodes slot frames carried in UDP packets from a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if live || offline {
				// libpcap handles both live interfaces and files with BPF
				// filtering when built with -tags=pcap.
				src, err := source.OpenLive(args[0], port, offline)
				if err != nil {
					return err
				}
				defer src.Close()
				return capture(cmd, cfg, src, "pcap:"+args[0])
			}
			src, err := source.OpenPCAPFile(args[0], port)
			if err != nil {
				return err
			}
			defer src.Close()
			return capture(cmd, cfg, src, "file:"+args[0])
		},
	}
	cmd.Flags().IntVar(&port, "port", source.DefaultUDPPort, "UDP port carrying slot frames, 0 for any")
	cmd.Flags().BoolVar(&live, "live", false, "Treat the argument as a network interface (requires -tags=pcap)")
	cmd.Flags().BoolVar(&offline, "libpcap", false, "Read the file through libpcap (requires -tags=pcap)")
	return cmd
}

func synthEntry() *cobra.Command {
	var out string
	var slots, sps int

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generates synthetic traffic, either into a capture file or straight into the sniffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := synth.DefaultScenario()
			if slots > 0 {
				sc.Slots = slots
			}
			if sps > 0 {
				sc.SamplesPerSymbol = sps
			}
			if out != "" {
				n, err := writeSynthetic(out, sc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d slots to %s\n", n, out)
				return nil
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return capture(cmd, cfg, synth.New(sc), "synth")
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write slots to this PCAP file instead of decoding them")
	cmd.Flags().IntVar(&slots, "slots", 0, "Number of slots to generate")
	cmd.Flags().IntVar(&sps, "sps", 0, "Samples per symbol")
	return cmd
}
