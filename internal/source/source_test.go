package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btsniff/internal/sniffer"
)

var (
	_ sniffer.SlotSource = (*UDPSource)(nil)
	_ sniffer.SlotSource = (*StreamSource)(nil)
	_ sniffer.SlotSource = (*PCAPSource)(nil)
	_ sniffer.SlotSource = (*LiveSource)(nil)
)

func testSlot(freq int, fill byte) sniffer.Slot {
	return sniffer.Slot{
		Samples:          bytes.Repeat([]byte{fill}, 700),
		SamplesPerSymbol: 1,
		CenterFreqMHz:    freq,
	}
}

func mustEncode(t *testing.T, slot sniffer.Slot) []byte {
	t.Helper()
	b, err := EncodeSlot(slot)
	require.NoError(t, err)
	return b
}

func TestSlotFrame(t *testing.T) {
	slot := testSlot(2441, 0x7f)
	b := mustEncode(t, slot)
	assert.Equal(t, []byte("BTSL"), b[:4])
	assert.Len(t, b, frameHeaderSize+700)

	got, err := DecodeSlot(b)
	require.NoError(t, err)
	if diff := cmp.Diff(slot, got); diff != "" {
		t.Errorf("DecodeSlot mismatch (-want +got):\n%s", diff)
	}

	// Decoded samples do not alias the input buffer.
	b[frameHeaderSize] = 0
	assert.Equal(t, byte(0x7f), got.Samples[0])

	size, err := FrameSize(b[:frameHeaderSize])
	require.NoError(t, err)
	assert.Equal(t, len(b), size)
}

func TestSlotFrameErrors(t *testing.T) {
	good := mustEncode(t, testSlot(2402, 1))

	_, err := DecodeSlot(good[:10])
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = DecodeSlot(good[:100])
	assert.ErrorIs(t, err, ErrShortFrame)

	bad := append([]byte(nil), good...)
	bad[0] = 'X'
	_, err = DecodeSlot(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte(nil), good...)
	bad[4] = 9
	_, err = DecodeSlot(bad)
	assert.ErrorIs(t, err, ErrVersion)

	_, err = EncodeSlot(sniffer.Slot{Samples: make([]byte, MaxFrameSamples+1)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUDPSource(t *testing.T) {
	frame := mustEncode(t, testSlot(2426, 0x81))
	socket := NewMockUDPSocket([]byte("junk"), frame)
	factory := &MockUDPSocketFactory{Socket: socket}

	src, err := ListenUDP(UDPSourceConfig{Address: "127.0.0.1:5555", RcvBuf: 1 << 20, Factory: factory})
	require.NoError(t, err)
	assert.Equal(t, 5555, factory.Addr.Port)
	assert.Equal(t, 1<<20, socket.ReadBufferSize)

	slot, err := src.ReadSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2426, slot.CenterFreqMHz)
	assert.Equal(t, 1, src.Rejected())
	assert.False(t, socket.ReadDeadline.IsZero())

	// Out of datagrams: the read loop keeps timing out until ctx expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.ReadSlot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, src.Close())
	_, err = src.ReadSlot(context.Background())
	assert.Error(t, err)
}

func TestUDPSourceReadErrorIsSkipped(t *testing.T) {
	socket := NewMockUDPSocket(mustEncode(t, testSlot(2480, 0)))
	socket.ReadError = errors.New("connection refused")
	src, err := ListenUDP(UDPSourceConfig{Address: ":0", Factory: &MockUDPSocketFactory{Socket: socket}})
	require.NoError(t, err)

	slot, err := src.ReadSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2480, slot.CenterFreqMHz)
}

func TestListenUDPErrors(t *testing.T) {
	_, err := ListenUDP(UDPSourceConfig{Address: "not an address"})
	assert.Error(t, err)

	_, err = ListenUDP(UDPSourceConfig{Address: ":0", Factory: &MockUDPSocketFactory{Error: errors.New("in use")}})
	assert.ErrorContains(t, err, "in use")
}

func TestStreamSource(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("xyz")
	stream.Write(mustEncode(t, testSlot(2402, 1)))
	stream.Write(mustEncode(t, testSlot(2404, 2)))
	stream.Write(mustEncode(t, testSlot(2406, 3))[:40])

	src := NewStreamSource(&stream)
	ctx := context.Background()

	slot, err := src.ReadSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2402, slot.CenterFreqMHz)
	assert.Equal(t, 3, src.Skipped())

	slot, err = src.ReadSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2404, slot.CenterFreqMHz)
	assert.Equal(t, byte(2), slot.Samples[0])

	_, err = src.ReadSlot(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

func TestStreamSourceCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewStreamSource(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.ReadSlot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamSourceSkippedWhileReading(t *testing.T) {
	frame := mustEncode(t, testSlot(2402, 1))
	r, w := io.Pipe()
	src := NewStreamSource(r)
	go func() {
		w.Write([]byte("junk"))
		w.Write(frame)
		w.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for src.Skipped() < 4 {
			time.Sleep(time.Millisecond)
		}
	}()

	slot, err := src.ReadSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2402, slot.CenterFreqMHz)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("skipped count never reached 4")
	}
	assert.Equal(t, 4, src.Skipped())
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 3000000, DataBits: 8, StopBits: 1, Parity: "E"}, opts)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)

	mode, err := PortOptions{BaudRate: 115200, StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
}

func TestPCAPRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := NewPCAPWriter(&buf, 0, start)
	require.NoError(t, err)
	require.NoError(t, w.WriteSlot(testSlot(2402, 0x7f)))
	require.NoError(t, w.WriteSlot(testSlot(2441, 0x81)))

	capture := buf.Bytes()
	src, err := NewPCAPSource(bytes.NewReader(capture), DefaultUDPPort)
	require.NoError(t, err)
	ctx := context.Background()

	slot, err := src.ReadSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2402, slot.CenterFreqMHz)
	assert.True(t, src.Last.Equal(start))

	slot, err = src.ReadSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2441, slot.CenterFreqMHz)
	assert.Equal(t, 700, len(slot.Samples))
	assert.True(t, src.Last.Equal(start.Add(625*time.Microsecond)))

	_, err = src.ReadSlot(ctx)
	assert.ErrorIs(t, err, io.EOF)

	// A different port filters everything out.
	other, err := NewPCAPSource(bytes.NewReader(capture), 6000)
	require.NoError(t, err)
	_, err = other.ReadSlot(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenPCAPFileMissing(t *testing.T) {
	_, err := OpenPCAPFile(t.TempDir()+"/none.pcap", 0)
	assert.Error(t, err)
}
