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

func TestFutureHostcallPendingThenReady(t *testing.T) {
	release := make(chan struct{})
	f := newFutureHostcall(context.Background(), func(ctx context.Context) (value.Value, error) {
		<-release
		return value.Nil, nil
	})

	_, _, ok := f.get()
	assert.False(t, ok)
	assert.False(t, f.ready())

	close(release)
	require.NoError(t, f.wait(context.Background()))
	assert.True(t, f.ready())

	v, err, ok := f.get()
	require.True(t, ok)
	require.NoError(t, err)
	assert.True(t, v.IsEmpty() || v.Equal(value.Nil))
}

func TestFutureHostcallGetTwiceIsConsumed(t *testing.T) {
	f := newFutureHostcall(context.Background(), func(ctx context.Context) (value.Value, error) {
		return value.Nil, nil
	})
	require.NoError(t, f.wait(context.Background()))

	_, _, ok := f.get()
	require.True(t, ok)

	_, err, ok := f.get()
	require.True(t, ok)
	assert.True(t, errors.Is(err, isolaerr.ErrConsumed))
}

func TestFutureHostcallPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	f := newFutureHostcall(context.Background(), func(ctx context.Context) (value.Value, error) {
		return value.Nil, boom
	})
	require.NoError(t, f.wait(context.Background()))

	_, err, ok := f.get()
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestFutureHostcallDropCancelsPending(t *testing.T) {
	started := make(chan struct{})
	f := newFutureHostcall(context.Background(), func(ctx context.Context) (value.Value, error) {
		close(started)
		<-ctx.Done()
		return value.Nil, ctx.Err()
	})
	<-started
	f.drop()

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not observe cancellation")
	}
}
