package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/btsniff/internal/piconet"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sniffer.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &SnifferConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
	if got := cfg.GetMaxACErrors(); got != 1 {
		t.Errorf("GetMaxACErrors() = %d, want 1", got)
	}
	if got := cfg.GetMinBacklog(); got != piconet.DefaultMinBacklog {
		t.Errorf("GetMinBacklog() = %d, want %d", got, piconet.DefaultMinBacklog)
	}
	if !cfg.GetClassic() || !cfg.GetLowEnergy() {
		t.Errorf("classic and low_energy should default to enabled")
	}
	if got := cfg.GetFlushInterval(); got != time.Second {
		t.Errorf("GetFlushInterval() = %v, want 1s", got)
	}
	if got := cfg.GetUDPAddr(); got != ":5555" {
		t.Errorf("GetUDPAddr() = %q, want :5555", got)
	}
	if cfg.GetForwardAddr() != "" || cfg.GetPCAPOut() != "" || cfg.GetDBPath() != "" {
		t.Errorf("optional outputs should default to disabled")
	}
	if cfg.GetSourceMAC() != nil {
		t.Errorf("GetSourceMAC() should be nil by default")
	}
}

func TestLoadSnifferConfig(t *testing.T) {
	path := writeConfig(t, `{
  "max_ac_errors": 2,
  "max_backlog": 16,
  "low_energy": false,
  "le_access_addresses": ["0xAF9A9CD8", "50654d6b"],
  "flush_interval": "250ms",
  "source_mac": "02:00:00:00:00:01",
  "listen": ":9000"
}`)
	cfg, err := LoadSnifferConfig(path)
	if err != nil {
		t.Fatalf("LoadSnifferConfig failed: %v", err)
	}
	if got := cfg.GetMaxACErrors(); got != 2 {
		t.Errorf("GetMaxACErrors() = %d, want 2", got)
	}
	if got := cfg.GetFlushInterval(); got != 250*time.Millisecond {
		t.Errorf("GetFlushInterval() = %v, want 250ms", got)
	}
	if got := cfg.GetSourceMAC().String(); got != "02:00:00:00:00:01" {
		t.Errorf("GetSourceMAC() = %s", got)
	}

	opts := cfg.SnifferOptions()
	if opts.LowEnergy || !opts.Classic {
		t.Errorf("SnifferOptions() classic=%v low_energy=%v", opts.Classic, opts.LowEnergy)
	}
	if opts.Discovery.MaxBacklog != 16 || opts.Discovery.MinBacklog != piconet.DefaultMinBacklog {
		t.Errorf("SnifferOptions().Discovery = %+v", opts.Discovery)
	}
	if len(opts.LEAccessAddresses) != 2 || opts.LEAccessAddresses[0] != 0xaf9a9cd8 || opts.LEAccessAddresses[1] != 0x50654d6b {
		t.Errorf("SnifferOptions().LEAccessAddresses = %x", opts.LEAccessAddresses)
	}
}

func TestLoadSnifferConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad json", `{`, "failed to parse"},
		{"ac errors", `{"max_ac_errors": 12}`, "max_ac_errors"},
		{"min backlog", `{"min_backlog": 0}`, "min_backlog"},
		{"min backlog of one", `{"min_backlog": 1}`, "min_backlog"},
		{"max below min", `{"min_backlog": 8, "max_backlog": 4}`, "max_backlog"},
		{"nothing enabled", `{"classic": false, "low_energy": false}`, "at least one"},
		{"access address", `{"le_access_addresses": ["xyz"]}`, "le_access_addresses"},
		{"duration", `{"flush_interval": "soon"}`, "flush_interval"},
		{"negative duration", `{"forward_log_interval": "-1s"}`, "forward_log_interval"},
		{"mac", `{"source_mac": "nope"}`, "source_mac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSnifferConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadSnifferConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadSnifferConfig("config.yaml"); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}
	if _, err := LoadSnifferConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestMerge(t *testing.T) {
	base := &SnifferConfig{MaxACErrors: ptrInt(1), Listen: ptrString(":8088")}
	base.Merge(&SnifferConfig{MaxACErrors: ptrInt(3), LowEnergy: ptrBool(false), LEAccessAddresses: []string{"01020304"}})
	if base.GetMaxACErrors() != 3 {
		t.Errorf("MaxACErrors not overridden")
	}
	if base.GetListen() != ":8088" {
		t.Errorf("Listen should be kept, got %q", base.GetListen())
	}
	if base.GetLowEnergy() {
		t.Errorf("LowEnergy not overridden")
	}
	if len(base.LEAccessAddresses) != 1 {
		t.Errorf("LEAccessAddresses not overridden")
	}
	base.Merge(nil)
}

func TestDefaultsFile(t *testing.T) {
	path, ok := FindDefaultConfig()
	if !ok {
		t.Skip("defaults file not found from this directory")
	}
	cfg, err := LoadSnifferConfig(path)
	if err != nil {
		t.Fatalf("defaults file invalid: %v", err)
	}
	// The file spells out the same values the accessors fall back to.
	empty := &SnifferConfig{}
	if cfg.GetMaxBacklog() != empty.GetMaxBacklog() || cfg.GetFlushInterval() != empty.GetFlushInterval() ||
		cfg.GetListen() != empty.GetListen() || cfg.GetUDPRcvBuf() != empty.GetUDPRcvBuf() {
		t.Errorf("defaults file disagrees with built-in defaults")
	}
}
