package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btsniff/internal/config"
	"github.com/banshee-data/btsniff/internal/monitoring"
)

// addCommonFlags registers the flags shared by every capture command. Each
// one overrides the matching config file key only when given.
func addCommonFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to a JSON config file (default: "+config.DefaultConfigPath+" if present)")
	f.Bool("verbose", false, "Log per-packet decoder detail")
	f.Bool("no-http", false, "Do not start the monitoring HTTP server")

	f.Int("max-ac-errors", 1, "Access code bit errors tolerated")
	f.Bool("classic", true, "Decode Basic Rate traffic")
	f.Bool("le", true, "Decode Low Energy traffic")
	f.StringSlice("le-aa", nil, "Extra LE access addresses to follow, hex")

	f.String("pcap-out", "", "Write decoded frames to this PCAP file")
	f.String("forward", "", "Forward decoded frames as UDP to host:port")
	f.String("db", "", "SQLite database for device sessions")
	f.String("listen", "", "Monitoring HTTP listen address (default 127.0.0.1:8088)")
	f.String("flush-interval", "", "Tracker flush interval, e.g. 1s")
}

// loadConfig reads the config file, applies flag overrides and validates
// the result.
func loadConfig(cmd *cobra.Command) (*config.SnifferConfig, error) {
	flags := cmd.Flags()

	cfg := &config.SnifferConfig{}
	path, _ := flags.GetString("config")
	if path == "" {
		if p, ok := config.FindDefaultConfig(); ok {
			path = p
		}
	}
	if path != "" {
		loaded, err := config.LoadSnifferConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		monitoring.Logf("Loaded config from %s", path)
	}

	o := &config.SnifferConfig{}
	if flags.Changed("max-ac-errors") {
		v, _ := flags.GetInt("max-ac-errors")
		o.MaxACErrors = &v
	}
	if flags.Changed("classic") {
		v, _ := flags.GetBool("classic")
		o.Classic = &v
	}
	if flags.Changed("le") {
		v, _ := flags.GetBool("le")
		o.LowEnergy = &v
	}
	if flags.Changed("le-aa") {
		o.LEAccessAddresses, _ = flags.GetStringSlice("le-aa")
	}
	for name, dst := range map[string]**string{
		"pcap-out":       &o.PCAPOut,
		"forward":        &o.ForwardAddr,
		"db":             &o.DBPath,
		"listen":         &o.Listen,
		"flush-interval": &o.FlushInterval,
		"udp":            &o.UDPAddr,
	} {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = &v
		}
	}
	if flags.Lookup("baud") != nil && flags.Changed("baud") {
		v, _ := flags.GetInt("baud")
		o.SerialBaud = &v
	}
	cfg.Merge(o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verbose, _ := flags.GetBool("verbose")
	monitoring.Verbose(verbose)
	return cfg, nil
}
