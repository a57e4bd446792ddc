package hostimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isola-run/isola-go/value"
)

func TestStateStashAndTakeResult(t *testing.T) {
	s := NewState(8, nil, nil)
	h, err := s.Table.insert("placeholder")
	require.NoError(t, err)

	n, ok := s.resultLen(h)
	assert.False(t, ok)
	assert.Equal(t, 0, n)

	s.stashResult(h, []byte("hello"), false)

	n, ok = s.resultLen(h)
	assert.True(t, ok)
	assert.Equal(t, 5, n)
	assert.False(t, s.resultFailed(h))

	got := s.takeResult(h)
	assert.Equal(t, []byte("hello"), got)

	_, ok = s.resultLen(h)
	assert.False(t, ok)
}

func TestStateStashFailure(t *testing.T) {
	s := NewState(8, nil, nil)
	h, err := s.Table.insert("placeholder")
	require.NoError(t, err)

	s.stashResult(h, []byte("boom"), true)
	assert.True(t, s.resultFailed(h))
}

func TestStateOutputBufferAccumulatesAcrossContinuations(t *testing.T) {
	s := NewState(8, nil, nil)

	s.appendOutput([]byte("ab"))
	s.appendOutput([]byte("cd"))
	got := s.takeOutput([]byte("ef"))

	assert.Equal(t, []byte("abcdef"), got)
}

func TestStateOutputBufferEmptyAfterTake(t *testing.T) {
	s := NewState(8, nil, nil)

	s.appendOutput([]byte("x"))
	_ = s.takeOutput(nil)
	got := s.takeOutput(nil)

	assert.Empty(t, got)
}

func TestStateResetOutputClearsBuffer(t *testing.T) {
	s := NewState(8, nil, nil)

	s.appendOutput([]byte("leftover"))
	s.resetOutput()
	got := s.takeOutput(nil)

	assert.Empty(t, got)
}

func TestStateRegisterStreamInsertsValueIterator(t *testing.T) {
	s := NewState(8, nil, nil)
	src := make(chan value.Value)

	h, err := s.RegisterStream(src, nil)
	require.NoError(t, err)

	res, ok := s.Table.get(handle(uint32(h)))
	require.True(t, ok)
	_, ok = res.(*valueIterator)
	assert.True(t, ok)
}
