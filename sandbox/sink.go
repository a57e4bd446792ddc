// Package sandbox implements the guest Template/Instance lifecycle: guest
// compile/cache, instantiation, deadline-bounded calls and the output/log
// sink plumbing a call installs for its duration.
//
// Grounded on the teacher's wapc.Module/wapc.Instance split
// (_examples/JanFalkin-wapc-go/wapc.go) and on
// original_source/crates/isola/src/internal/module/call.rs's CallCleanup
// RAII guard and Mutex<CallOutput> OutputSink impl.
package sandbox

import (
	"context"
	"sync"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/value"
)

// EmitKind classifies one guest `blocking-emit` call, mirroring the source
// crate's EmitValue variants.
type EmitKind int

const (
	// EmitContinuation appends its payload to the per-call output buffer
	// without producing an item; it exists so a guest can stream one
	// logical value across several emits before it is complete.
	EmitContinuation EmitKind = iota
	// EmitPartialResult flushes the accumulated output buffer (itself
	// included) as one concatenated Value and routes it to OnItem.
	EmitPartialResult
	// EmitEnd is the guest's final result; routed to OnComplete.
	EmitEnd
)

// collectSink implements isola.OutputSink by accumulating every emitted
// item and the final result into an isola.CallOutput, guarded by a mutex
// exactly like the source crate's `Mutex<CallOutput>` impl of OutputSink.
type collectSink struct {
	mu      sync.Mutex
	out     isola.CallOutput
	logSink isola.LogSink
}

func newCollectSink(logSink isola.LogSink) *collectSink {
	return &collectSink{logSink: logSink}
}

func (s *collectSink) OnItem(ctx context.Context, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Items = append(s.out.Items, v)
	return nil
}

func (s *collectSink) OnComplete(ctx context.Context, v *value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Result = v
	return nil
}

func (s *collectSink) OnLog(ctx context.Context, level isola.LogLevel, logCtx isola.LogContext, message string) error {
	if s.logSink == nil {
		return nil
	}
	return s.logSink.OnLog(ctx, level, logCtx, message)
}

func (s *collectSink) result() *isola.CallOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	return &out
}

// streamSink implements isola.OutputSink by forwarding every item, the
// final result, and any terminal error onto a StreamItem channel in
// strict FIFO order — emits from the guest serialize through the single
// host-import call path, so no additional ordering guard is needed beyond
// the channel itself being unbuffered-or-ordered.
type streamSink struct {
	ch chan isola.StreamItem
}

func newStreamSink(buffer int) *streamSink {
	return &streamSink{ch: make(chan isola.StreamItem, buffer)}
}

func (s *streamSink) OnItem(ctx context.Context, v value.Value) error {
	item := v
	select {
	case s.ch <- isola.StreamItem{Item: &item}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamSink) OnComplete(ctx context.Context, v *value.Value) error {
	select {
	case s.ch <- isola.StreamItem{Result: v}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamSink) OnLog(ctx context.Context, level isola.LogLevel, logCtx isola.LogContext, message string) error {
	// Log lines interleave independently of the item/result stream; a
	// streaming caller that also wants logs wraps its own logSink
	// separately, so this sink never forwards logs onto ch.
	return nil
}

func (s *streamSink) fail(err error) {
	s.ch <- isola.StreamItem{Err: err}
}

func (s *streamSink) close() {
	close(s.ch)
}
