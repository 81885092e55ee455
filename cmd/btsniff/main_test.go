package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/source"
	"github.com/banshee-data/btsniff/internal/synth"
)

func TestWriteSyntheticReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synth.pcap")
	sc := synth.DefaultScenario()
	sc.Slots = 60

	n, err := writeSynthetic(path, sc)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	src, err := source.OpenPCAPFile(path, source.DefaultUDPPort)
	require.NoError(t, err)
	defer src.Close()

	runner := sniffer.NewRunner(sniffer.New(sniffer.DefaultConfig(), sniffer.Deps{}))
	require.NoError(t, runner.Run(context.Background(), src))
	st := runner.Stats()
	assert.Equal(t, uint64(60), st.Slots)
	assert.NotZero(t, st.LEDecoded)
	assert.Equal(t, uint64(1), st.InquiryFHS)
}

func TestWriteSyntheticNeedsSlots(t *testing.T) {
	sc := synth.DefaultScenario()
	sc.Slots = 0
	_, err := writeSynthetic(filepath.Join(t.TempDir(), "x.pcap"), sc)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	cmd := versionEntry()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "btsniff dev")
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cmd := listenEntry()
	addCommonFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--le=false", "--udp", ":6000", "--max-ac-errors", "2", "--config", "../../config/sniffer.defaults.json"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.False(t, cfg.GetLowEnergy())
	assert.True(t, cfg.GetClassic())
	assert.Equal(t, ":6000", cfg.GetUDPAddr())
	assert.Equal(t, 2, cfg.GetMaxACErrors())
}

func TestLoadConfigRejectsNoModes(t *testing.T) {
	cmd := listenEntry()
	addCommonFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--le=false", "--classic=false", "--config", "../../config/sniffer.defaults.json"}))
	_, err := loadConfig(cmd)
	assert.Error(t, err)
}
