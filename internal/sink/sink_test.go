package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/timeutil"
)

var _ sniffer.Sink = (*PCAPSink)(nil)
var _ sniffer.Sink = (*Forwarder)(nil)
var _ sniffer.Sink = Multi(nil)

func TestMAC(t *testing.T) {
	assert.Equal(t, "be:ef:6b:7a:8b:9c", MAC(0xbeef6b7a8b9c).String())
	assert.Equal(t, "00:00:00:9e:8b:33", MAC(0x9e8b33).String())
}

func TestEncodeFrame(t *testing.T) {
	payload := []byte("tun payload bytes")
	frame, err := EncodeFrame(DefaultSourceMAC, 0xbeef6b7a8b9c, sniffer.EtherType, payload)
	require.NoError(t, err)
	assert.Len(t, frame, 60, "short frames are padded")

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, "be:ef:6b:7a:8b:9c", eth.DstMAC.String())
	assert.Equal(t, DefaultSourceMAC, eth.SrcMAC)
	assert.Equal(t, layers.EthernetType(0xFFF0), eth.EthernetType)
	assert.True(t, bytes.HasPrefix(eth.Payload, payload))

	_, err = EncodeFrame([]byte{1, 2}, 1, sniffer.EtherType, nil)
	assert.Error(t, err)
}

func TestPCAPSink(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s, err := NewPCAPSink(&buf, nil, clock)
	require.NoError(t, err)

	long := bytes.Repeat([]byte{0xa5}, 100)
	require.NoError(t, s.Deliver(0x6b7a8b9c, long, sniffer.EtherType))
	clock.Advance(time.Second)
	require.NoError(t, s.Deliver(0x7a8b9c, nil, sniffer.EtherType))
	assert.Equal(t, 2, s.Count())
	assert.NoError(t, s.Close())

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, ci.Timestamp.Equal(start))
	assert.Len(t, data, 14+len(long))
	assert.Equal(t, long, data[14:])

	data, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, ci.Timestamp.Equal(start.Add(time.Second)))
	assert.Equal(t, []byte{0, 0, 0, 0x7a, 0x8b, 0x9c}, data[:6])

	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCreatePCAPFile(t *testing.T) {
	path := t.TempDir() + "/out.pcap"
	s, err := CreatePCAPFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Deliver(1, []byte{1, 2, 3}, sniffer.EtherType))
	require.NoError(t, s.Close())

	_, err = CreatePCAPFile(t.TempDir()+"/missing/dir/out.pcap", nil)
	assert.Error(t, err)
}

type recordingConn struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
	closed bool
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func TestForwarder(t *testing.T) {
	conn := &recordingConn{}
	f := NewForwarderConn(conn, "test", nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.Deliver(uint64(i), []byte{byte(i)}, sniffer.EtherType))
	}
	require.Eventually(t, func() bool { return conn.count() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5), f.Sent())
	assert.Zero(t, f.Dropped())

	cancel()
	require.NoError(t, f.Close())
	assert.True(t, conn.closed)
}

func TestForwarderDropsWhenFull(t *testing.T) {
	conn := &recordingConn{}
	f := NewForwarderConn(conn, "test", nil, time.Hour)
	// Not started: the queue fills up.
	for i := 0; i < forwardQueue+3; i++ {
		require.NoError(t, f.Deliver(1, nil, sniffer.EtherType))
	}
	assert.Equal(t, uint64(3), f.Dropped())
}

func TestForwarderWriteErrors(t *testing.T) {
	conn := &recordingConn{err: errors.New("refused")}
	f := NewForwarderConn(conn, "test", nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	require.NoError(t, f.Deliver(1, nil, sniffer.EtherType))
	require.Eventually(t, func() bool { return f.Failed() == 1 }, time.Second, 5*time.Millisecond)
}

type failingSink struct{ err error }

func (s failingSink) Deliver(uint64, []byte, uint16) error { return s.err }

func TestMulti(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPCAPSink(&buf, nil, nil)
	require.NoError(t, err)

	assert.NoError(t, Multi{p, Discard{}}.Deliver(1, nil, sniffer.EtherType))
	assert.Equal(t, 1, p.Count())

	e1, e2 := errors.New("one"), errors.New("two")
	err = Multi{failingSink{e1}, p, failingSink{e2}}.Deliver(1, nil, sniffer.EtherType)
	require.Error(t, err)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, 2, p.Count())

	assert.NoError(t, Multi(nil).Deliver(1, nil, sniffer.EtherType))
}
