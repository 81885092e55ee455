package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btsniff/internal/piconet"
	"github.com/banshee-data/btsniff/internal/sniffer"
)

func testSnapshot() sniffer.Snapshot {
	return sniffer.Snapshot{
		Stats: sniffer.Stats{Slots: 42, Decoded: 7, ClockLosses: 1},
		Classic: []piconet.Snapshot{
			{LAP: 0x9e8b33, State: "tracking"},
			{LAP: 0x123456, State: "discovering", BacklogLen: 2},
		},
		LowEnergy: []piconet.LESnapshot{
			{AccessAddress: 0x8e89bed6, State: "tracking"},
		},
	}
}

func TestSnapshotCollector(t *testing.T) {
	m, err := New(Sources{Snapshot: testSnapshot})
	require.NoError(t, err)

	expected := `
# HELP btsniff_piconet_count Piconet records by kind and state.
# TYPE btsniff_piconet_count gauge
btsniff_piconet_count{kind="br",state="discovering"} 1
btsniff_piconet_count{kind="br",state="tracking"} 1
btsniff_piconet_count{kind="le",state="discovering"} 0
btsniff_piconet_count{kind="le",state="tracking"} 1
# HELP btsniff_piconet_backlog Queued packets awaiting discovery.
# TYPE btsniff_piconet_backlog gauge
btsniff_piconet_backlog{address="123456",kind="br"} 2
# HELP btsniff_sniffer_slots_total Slots processed.
# TYPE btsniff_sniffer_slots_total counter
btsniff_sniffer_slots_total 42
`
	err = testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"btsniff_piconet_count", "btsniff_piconet_backlog", "btsniff_sniffer_slots_total")
	assert.NoError(t, err)
	assert.Equal(t, len(counters)+5, testutil.CollectAndCount(&snapshotCollector{snapshot: testSnapshot}))
}

func TestFuncMetrics(t *testing.T) {
	dropped := uint64(3)
	m, err := New(Sources{
		ForwarderDropped: func() uint64 { return dropped },
		Devices:          func() int { return 5 },
		Subscribers:      func() int { return 1 },
	})
	require.NoError(t, err)

	expected := `
# HELP btsniff_forwarder_dropped_total Frames dropped because the forward queue was full.
# TYPE btsniff_forwarder_dropped_total counter
btsniff_forwarder_dropped_total 3
# HELP btsniff_tracker_devices Devices currently tracked.
# TYPE btsniff_tracker_devices gauge
btsniff_tracker_devices 5
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"btsniff_forwarder_dropped_total", "btsniff_tracker_devices"))
}

func TestHandler(t *testing.T) {
	m, err := New(Sources{Snapshot: testSnapshot})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "btsniff_sniffer_decoded_total 7")
	assert.Contains(t, string(body), "btsniff_sniffer_clock_losses_total 1")
}
