package hostimport

import (
	"context"
	"sync"

	"github.com/isola-run/isola-go/isolaerr"
	"github.com/isola-run/isola-go/value"
)

// futureState is the three-state lifecycle of a hostcall in flight, the Go
// analogue of the source crate's FutureHostcall enum (Pending/Ready/
// Consumed). Go lacks an enum-with-payload, so the state is inferred from
// which of the remaining fields is populated.
type futureState int

const (
	futurePending futureState = iota
	futureReady
	futureConsumed
)

// futureHostcall backs one `hostcall` resource exported to the guest. The
// host spawns the embedder's Host.Hostcall on a goroutine the moment the
// guest requests it; the guest then polls get() until a result lands.
//
// Grounded on host_bindings.rs's FutureHostcall/HostFutureHostcall: "Pending"
// holds an abort-on-drop task handle there, reproduced here with a
// cancellable context plus a done channel since Go goroutines cannot be
// force-aborted.
type futureHostcall struct {
	mu     sync.Mutex
	state  futureState
	result value.Value
	err    error

	cancel context.CancelFunc
	done   chan struct{}
}

// newFutureHostcall starts call on a goroutine and returns immediately with
// a futureHostcall in the pending state.
func newFutureHostcall(ctx context.Context, call func(ctx context.Context) (value.Value, error)) *futureHostcall {
	ctx, cancel := context.WithCancel(ctx)
	f := &futureHostcall{state: futurePending, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		result, err := call(ctx)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.state != futurePending {
			// Dropped/cancelled before the goroutine observed it; discard.
			return
		}
		f.state = futureReady
		f.result, f.err = result, err
	}()

	return f
}

// ready reports whether the call has produced a result without blocking —
// the Go side of FutureHostcall's Pollable::ready, used to implement
// `subscribe`.
func (f *futureHostcall) ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != futurePending
}

// wait blocks until the call completes or ctx is canceled.
func (f *futureHostcall) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get implements the guest-visible `get` operation: nil, false on a still
// pending call (None in the source), a value/error pair once ready
// (consuming the future), or isolaerr.ErrConsumed if get was already
// called once.
func (f *futureHostcall) get() (value.Value, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case futurePending:
		return value.Nil, nil, false
	case futureReady:
		f.state = futureConsumed
		return f.result, f.err, true
	default: // futureConsumed
		return value.Nil, isolaerr.Wasm(isolaerr.ErrConsumed), true
	}
}

// drop cancels the in-flight call (if still pending) the way the source
// crate's AbortOnDropJoinHandle cancels on resource drop.
func (f *futureHostcall) drop() {
	f.cancel()
}
