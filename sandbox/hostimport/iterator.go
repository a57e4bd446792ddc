package hostimport

import (
	"context"
	"sync"

	"github.com/isola-run/isola-go/isolaerr"
	"github.com/isola-run/isola-go/value"
)

// valueIterator backs one `value-iterator` resource exported to the guest:
// a host-driven stream of Values the guest consumes via try_next (poll,
// never blocks) or blocking_next (await the next item or stream close).
//
// Grounded on host_bindings.rs's ValueIterator/HostValueIterator, with the
// same one-item lookahead buffer ("peek") used there to let try_next and
// subscribe share a single upstream read.
type valueIterator struct {
	mu     sync.Mutex
	source <-chan value.Value
	closed <-chan struct{}

	peeked    bool
	peekValue value.Value
	peekErr   error
	done      bool
}

// newValueIterator wraps source (a producer channel closed when the stream
// ends) as a guest-pollable resource.
func newValueIterator(source <-chan value.Value, closed <-chan struct{}) *valueIterator {
	return &valueIterator{source: source, closed: closed}
}

// fill ensures the one-item lookahead buffer is populated, blocking only if
// block is true; otherwise it is a non-blocking poll.
func (it *valueIterator) fill(ctx context.Context, block bool) {
	if it.peeked || it.done {
		return
	}

	if block {
		select {
		case v, ok := <-it.source:
			if !ok {
				it.done = true
				return
			}
			it.peeked, it.peekValue = true, v
		case <-it.closed:
			it.done = true
		case <-ctx.Done():
			it.peeked, it.peekErr = true, ctx.Err()
		}
		return
	}

	select {
	case v, ok := <-it.source:
		if !ok {
			it.done = true
			return
		}
		it.peeked, it.peekValue = true, v
	case <-it.closed:
		it.done = true
	default:
	}
}

// tryNext implements the guest-visible `read` operation: (value, true,
// true) on a ready item, (_, false, true) if closed, or (_, _, false) if
// nothing is available yet without blocking.
func (it *valueIterator) tryNext() (v value.Value, hasValue bool, available bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.fill(context.Background(), false)
	return it.consumePeek()
}

// blockingNext implements the guest-visible `blocking-read` operation,
// waiting for an item or stream close.
func (it *valueIterator) blockingNext(ctx context.Context) (value.Value, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.fill(ctx, true)
	v, hasValue, _ := it.consumePeek()
	if hasValue {
		return v, nil
	}
	if it.peekErr != nil {
		err := it.peekErr
		it.peekErr = nil
		return value.Nil, err
	}
	return value.Nil, isolaerr.Wasm(isolaerr.ErrClosed)
}

func (it *valueIterator) consumePeek() (v value.Value, hasValue bool, available bool) {
	if !it.peeked {
		if it.done {
			return value.Nil, false, true
		}
		return value.Nil, false, false
	}
	it.peeked = false
	if it.peekErr != nil {
		return value.Nil, false, true
	}
	return it.peekValue, true, true
}

// ready reports whether the stream has a lookahead item buffered or has
// ended, without blocking — used to implement `subscribe`.
func (it *valueIterator) ready() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.fill(context.Background(), false)
	return it.peeked || it.done
}
