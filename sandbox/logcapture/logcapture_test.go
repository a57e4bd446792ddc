package logcapture

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) OnLog(ctx context.Context, level Level, stream Stream, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func newTestWriter(t *testing.T, sink Sink) (*Writer, *SinkSlot) {
	t.Helper()
	slot := &SinkSlot{}
	slot.Set(sink)
	return New(context.Background(), LevelInfo, StreamStdout, slot), slot
}

func TestSmallWriteBuffers(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	n, err := w.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("hi"), w.buffer)
}

func TestLargeWriteFlushesBuffer(t *testing.T) {
	sink := &recordingSink{}
	w, _ := newTestWriter(t, sink)

	data := bytes.Repeat([]byte{'a'}, MinBuffer+1)
	_, err := w.Write(data)
	require.NoError(t, err)
	assert.Empty(t, w.buffer)
	require.Len(t, sink.messages, 1)
}

func TestPartialUTF8Retained(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})

	data := append(bytes.Repeat([]byte{'a'}, MinBuffer), 0xC3)
	_, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC3}, w.buffer)
}

func TestPartialUTF8CompletedOnNextWrite(t *testing.T) {
	sink := &recordingSink{}
	w, _ := newTestWriter(t, sink)

	first := append(bytes.Repeat([]byte{'a'}, MinBuffer), 0xC3)
	_, err := w.Write(first)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC3}, w.buffer)

	second := append([]byte{0xBC}, bytes.Repeat([]byte{'b'}, MinBuffer)...)
	_, err = w.Write(second)
	require.NoError(t, err)
	assert.Empty(t, w.buffer)
}

func TestFlushEmitsBuffered(t *testing.T) {
	sink := &recordingSink{}
	w, _ := newTestWriter(t, sink)

	_, err := w.Write([]byte("hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, w.buffer)

	require.NoError(t, w.Flush())
	assert.Empty(t, w.buffer)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "hi", sink.messages[0])
}

func TestFlushNoopWhenEmpty(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	require.NoError(t, w.Flush())
	assert.Empty(t, w.buffer)
}

func TestCheckWriteCapacity(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	assert.Equal(t, MaxBuffer, w.CheckWrite())

	w.buffer = append(w.buffer, bytes.Repeat([]byte{'x'}, MaxBuffer)...)
	assert.Equal(t, 0, w.CheckWrite())
}

func TestInvalidUTF8UsesLossy(t *testing.T) {
	sink := &recordingSink{}
	w, _ := newTestWriter(t, sink)

	data := bytes.Repeat([]byte{0xFF}, MaxUTF8Bytes+MinBuffer+1)
	_, err := w.Write(data)
	require.NoError(t, err)
	assert.Empty(t, w.buffer)
}

func TestFlushWithPartialUTF8RetainsTail(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	w.buffer = append([]byte("hello"), 0xE2)

	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0xE2}, w.buffer)
}

func TestWriteWhileInFlightTraps(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	w.inFlight = true

	_, err := w.Write([]byte("x"))
	assert.Error(t, err)
}

func TestCheckWriteReturnsZeroWhileInFlight(t *testing.T) {
	w, _ := newTestWriter(t, &recordingSink{})
	w.inFlight = true
	assert.Equal(t, 0, w.CheckWrite())
}

func TestSinkSlotSwapIsObservedByWriter(t *testing.T) {
	w, slot := newTestWriter(t, nil)

	_, err := w.Write(bytes.Repeat([]byte{'a'}, MinBuffer+1))
	require.NoError(t, err)
	assert.Empty(t, w.buffer)

	sink := &recordingSink{}
	slot.Set(sink)
	_, err = w.Write(bytes.Repeat([]byte{'b'}, MinBuffer+1))
	require.NoError(t, err)
	require.Len(t, sink.messages, 1)
}
