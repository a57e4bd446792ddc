package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoBoundsConcurrency(t *testing.T) {
	pool := New(2)

	var current atomic.Int32
	var maxSeen atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			_ = pool.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := maxSeen.Load()
					if n <= old || maxSeen.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			done <- struct{}{}
		}()
	}

	for i := 0; i < 5; i++ {
		<-done
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	pool := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	blocking := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(ctx context.Context) error {
			<-blocking
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	err := pool.Do(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)

	close(blocking)
}

func TestTryDoReportsUnavailable(t *testing.T) {
	pool := New(1)
	blocking := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = pool.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-blocking
			return nil
		})
	}()
	<-started

	ok, err := pool.TryDo(func() error { return nil })
	assert.False(t, ok)
	assert.NoError(t, err)

	close(blocking)
}
