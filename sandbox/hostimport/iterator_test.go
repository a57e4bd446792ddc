package hostimport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/isola-run/isola-go/isolaerr"
	"github.com/isola-run/isola-go/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueIteratorTryNextOnEmptyIsUnavailable(t *testing.T) {
	src := make(chan value.Value)
	it := newValueIterator(src, nil)

	_, hasValue, available := it.tryNext()
	assert.False(t, hasValue)
	assert.False(t, available)
}

func TestValueIteratorTryNextReturnsItem(t *testing.T) {
	src := make(chan value.Value, 1)
	src <- value.Nil
	it := newValueIterator(src, nil)

	time.Sleep(5 * time.Millisecond)
	v, hasValue, available := it.tryNext()
	require.True(t, hasValue)
	require.True(t, available)
	assert.True(t, v.Equal(value.Nil))
}

func TestValueIteratorTryNextReportsClose(t *testing.T) {
	src := make(chan value.Value)
	close(src)
	it := newValueIterator(src, nil)

	_, hasValue, available := it.tryNext()
	assert.False(t, hasValue)
	assert.True(t, available)
}

func TestValueIteratorBlockingNextWaitsForItem(t *testing.T) {
	src := make(chan value.Value, 1)
	it := newValueIterator(src, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		src <- value.Nil
	}()

	v, err := it.blockingNext(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Nil))
}

func TestValueIteratorBlockingNextReportsCloseAsErrClosed(t *testing.T) {
	src := make(chan value.Value)
	close(src)
	it := newValueIterator(src, nil)

	_, err := it.blockingNext(context.Background())
	assert.True(t, errors.Is(err, isolaerr.ErrClosed))
}

func TestValueIteratorBlockingNextRespectsContextCancellation(t *testing.T) {
	src := make(chan value.Value)
	it := newValueIterator(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := it.blockingNext(ctx)
	assert.Error(t, err)
}

func TestValueIteratorReadyReflectsBufferedItem(t *testing.T) {
	src := make(chan value.Value, 1)
	it := newValueIterator(src, nil)
	assert.False(t, it.ready())

	src <- value.Nil
	time.Sleep(5 * time.Millisecond)
	assert.True(t, it.ready())
}
