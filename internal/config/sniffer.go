package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/btsniff/internal/piconet"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/sniffer.defaults.json"

// SnifferConfig is the on-disk configuration. Unset fields fall back to the
// defaults returned by the Get* accessors, so partial files are safe.
type SnifferConfig struct {
	// Decoder
	MaxACErrors       *int     `json:"max_ac_errors,omitempty"`
	MinBacklog        *int     `json:"min_backlog,omitempty"`
	MaxBacklog        *int     `json:"max_backlog,omitempty"`
	Classic           *bool    `json:"classic,omitempty"`
	LowEnergy         *bool    `json:"low_energy,omitempty"`
	LEAccessAddresses []string `json:"le_access_addresses,omitempty"` // hex, e.g. "af9a9cd8"

	// Sources
	UDPAddr    *string `json:"udp_addr,omitempty"`
	UDPRcvBuf  *int    `json:"udp_rcvbuf,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`

	// Sinks
	ForwardAddr        *string `json:"forward_addr,omitempty"`
	ForwardLogInterval *string `json:"forward_log_interval,omitempty"` // duration string like "1m"
	PCAPOut            *string `json:"pcap_out,omitempty"`
	SourceMAC          *string `json:"source_mac,omitempty"`

	// Tracker and monitor
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "1s"
	DBPath        *string `json:"db_path,omitempty"`
	Listen        *string `json:"listen,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// LoadSnifferConfig loads a config from a .json file of at most 1MB.
func LoadSnifferConfig(path string) (*SnifferConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SnifferConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *SnifferConfig) Validate() error {
	if c.MaxACErrors != nil && (*c.MaxACErrors < 0 || *c.MaxACErrors > 8) {
		return fmt.Errorf("max_ac_errors must be between 0 and 8, got %d", *c.MaxACErrors)
	}
	if c.MinBacklog != nil && *c.MinBacklog < 2 {
		return fmt.Errorf("min_backlog must be at least 2, got %d", *c.MinBacklog)
	}
	if c.MaxBacklog != nil && *c.MaxBacklog < c.GetMinBacklog() {
		return fmt.Errorf("max_backlog %d is below min_backlog %d", *c.MaxBacklog, c.GetMinBacklog())
	}
	if !c.GetClassic() && !c.GetLowEnergy() {
		return fmt.Errorf("at least one of classic and low_energy must be enabled")
	}
	if _, err := c.GetLEAccessAddresses(); err != nil {
		return err
	}
	for name, v := range map[string]*string{"flush_interval": c.FlushInterval, "forward_log_interval": c.ForwardLogInterval} {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, *v)
			}
		}
	}
	if c.SourceMAC != nil && *c.SourceMAC != "" {
		if _, err := net.ParseMAC(*c.SourceMAC); err != nil {
			return fmt.Errorf("invalid source_mac '%s': %w", *c.SourceMAC, err)
		}
	}
	if c.UDPRcvBuf != nil && *c.UDPRcvBuf < 0 {
		return fmt.Errorf("udp_rcvbuf must be non-negative, got %d", *c.UDPRcvBuf)
	}
	return nil
}

func (c *SnifferConfig) GetMaxACErrors() int {
	if c.MaxACErrors == nil {
		return 1
	}
	return *c.MaxACErrors
}

func (c *SnifferConfig) GetMinBacklog() int {
	if c.MinBacklog == nil {
		return piconet.DefaultMinBacklog
	}
	return *c.MinBacklog
}

func (c *SnifferConfig) GetMaxBacklog() int {
	if c.MaxBacklog == nil {
		return piconet.DefaultMaxBacklog
	}
	return *c.MaxBacklog
}

func (c *SnifferConfig) GetClassic() bool {
	if c.Classic == nil {
		return true
	}
	return *c.Classic
}

func (c *SnifferConfig) GetLowEnergy() bool {
	if c.LowEnergy == nil {
		return true
	}
	return *c.LowEnergy
}

// GetLEAccessAddresses parses the configured hex access addresses.
func (c *SnifferConfig) GetLEAccessAddresses() ([]uint32, error) {
	out := make([]uint32, 0, len(c.LEAccessAddresses))
	for _, s := range c.LEAccessAddresses {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid le_access_addresses entry %q: %w", s, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func (c *SnifferConfig) GetUDPAddr() string {
	if c.UDPAddr == nil || *c.UDPAddr == "" {
		return ":5555"
	}
	return *c.UDPAddr
}

func (c *SnifferConfig) GetUDPRcvBuf() int {
	if c.UDPRcvBuf == nil {
		return 4 << 20
	}
	return *c.UDPRcvBuf
}

func (c *SnifferConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 3000000
	}
	return *c.SerialBaud
}

// GetForwardAddr returns the UDP forward destination, empty when disabled.
func (c *SnifferConfig) GetForwardAddr() string {
	if c.ForwardAddr == nil {
		return ""
	}
	return *c.ForwardAddr
}

func (c *SnifferConfig) GetForwardLogInterval() time.Duration {
	return parseDurationOr(c.ForwardLogInterval, time.Minute)
}

// GetPCAPOut returns the decoded traffic capture path, empty when disabled.
func (c *SnifferConfig) GetPCAPOut() string {
	if c.PCAPOut == nil {
		return ""
	}
	return *c.PCAPOut
}

// GetSourceMAC returns the configured frame source address, or nil for the
// sink default.
func (c *SnifferConfig) GetSourceMAC() net.HardwareAddr {
	if c.SourceMAC == nil || *c.SourceMAC == "" {
		return nil
	}
	mac, err := net.ParseMAC(*c.SourceMAC)
	if err != nil {
		return nil
	}
	return mac
}

func (c *SnifferConfig) GetFlushInterval() time.Duration {
	return parseDurationOr(c.FlushInterval, time.Second)
}

// GetDBPath returns the tracker database path, empty when persistence is off.
func (c *SnifferConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

func (c *SnifferConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return "127.0.0.1:8088"
	}
	return *c.Listen
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SnifferOptions converts the decoder fields for sniffer.New. Call Validate
// first; unparsable access addresses are skipped here.
func (c *SnifferConfig) SnifferOptions() sniffer.Config {
	cfg := sniffer.DefaultConfig()
	cfg.MaxACErrors = c.GetMaxACErrors()
	cfg.Classic = c.GetClassic()
	cfg.LowEnergy = c.GetLowEnergy()
	cfg.Discovery = piconet.Options{MinBacklog: c.GetMinBacklog(), MaxBacklog: c.GetMaxBacklog()}
	cfg.LEAccessAddresses, _ = c.GetLEAccessAddresses()
	return cfg
}

// Merge copies every field set in o over c. Command line flags use it to
// override the file.
func (c *SnifferConfig) Merge(o *SnifferConfig) {
	if o == nil {
		return
	}
	mergeInt(&c.MaxACErrors, o.MaxACErrors)
	mergeInt(&c.MinBacklog, o.MinBacklog)
	mergeInt(&c.MaxBacklog, o.MaxBacklog)
	mergeBool(&c.Classic, o.Classic)
	mergeBool(&c.LowEnergy, o.LowEnergy)
	if len(o.LEAccessAddresses) > 0 {
		c.LEAccessAddresses = append([]string(nil), o.LEAccessAddresses...)
	}
	mergeString(&c.UDPAddr, o.UDPAddr)
	mergeInt(&c.UDPRcvBuf, o.UDPRcvBuf)
	mergeInt(&c.SerialBaud, o.SerialBaud)
	mergeString(&c.ForwardAddr, o.ForwardAddr)
	mergeString(&c.ForwardLogInterval, o.ForwardLogInterval)
	mergeString(&c.PCAPOut, o.PCAPOut)
	mergeString(&c.SourceMAC, o.SourceMAC)
	mergeString(&c.FlushInterval, o.FlushInterval)
	mergeString(&c.DBPath, o.DBPath)
	mergeString(&c.Listen, o.Listen)
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = ptrInt(*src)
	}
}

func mergeBool(dst **bool, src *bool) {
	if src != nil {
		*dst = ptrBool(*src)
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

// FindDefaultConfig looks for DefaultConfigPath in the working directory and
// its parents, as tests run from package directories.
func FindDefaultConfig() (string, bool) {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		p := prefix + DefaultConfigPath
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
