package sandbox

import (
	"context"
	"fmt"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/isolaerr"
	"github.com/isola-run/isola-go/sandbox/hostimport"
	"github.com/isola-run/isola-go/sandbox/logcapture"
	"github.com/isola-run/isola-go/value"
)

// beginCall installs sink (may be nil, e.g. for EvalScript which has no
// item/result stream) as the OutputSink blocking-emit targets, and
// logSink as where captured stdout/stderr lines are routed, for the
// duration of one call. The returned cleanup func is the Go analogue of
// the source crate's CallCleanup RAII guard (call.rs), dropped via defer
// at the call site instead of at scope exit.
func (i *instance) beginCall(sink isola.OutputSink, logSink isola.LogSink) (func(), error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inCall {
		return nil, isolaerr.InvalidArgument("a call is already in flight on this instance")
	}
	i.inCall = true
	i.currentSink = sink
	i.hostState.resetOutput()
	i.stdoutSlot.Set(logAdapter{sink: logSink})
	i.stderrSlot.Set(logAdapter{sink: logSink})

	return func() {
		_ = i.stdoutWriter.Flush()
		_ = i.stderrWriter.Flush()
		i.mu.Lock()
		defer i.mu.Unlock()
		i.inCall = false
		i.currentSink = nil
		i.stdoutSlot.Set(nil)
		i.stderrSlot.Set(nil)
	}, nil
}

// logAdapter bridges logcapture.Sink (Level/Stream) onto isola.LogSink
// (LogLevel/LogContext), the two layers' own vocabularies for the same
// captured-output concept.
type logAdapter struct {
	sink isola.LogSink
}

func (a logAdapter) OnLog(ctx context.Context, _ logcapture.Level, stream logcapture.Stream, message string) error {
	if a.sink == nil {
		return nil
	}
	logCtx := isola.LogContext{}
	level := isola.LogLevelStdout
	if stream == logcapture.StreamStderr {
		logCtx.Stderr = true
		level = isola.LogLevelStderr
	} else {
		logCtx.Stdout = true
	}
	return a.sink.OnLog(ctx, level, logCtx, message)
}

// evalPrelude runs the template's configured prelude script once, before
// the instance is handed back to the caller, discarding its emitted items
// (a prelude has no caller-visible output channel).
func (i *instance) evalPrelude(ctx context.Context, code string) error {
	cleanup, err := i.beginCall(nil, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	return i.evalScriptLocked(ctx, isola.Source{Code: code, Name: "<prelude>"})
}

func (i *instance) EvalScript(ctx context.Context, src isola.Source, logSink isola.LogSink) error {
	if i.closed.Load() {
		return isolaerr.InvalidArgument("instance is closed")
	}
	cleanup, err := i.beginCall(nil, logSink)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := i.withDeadline(ctx)
	defer cancel()

	return i.evalScriptLocked(ctx, src)
}

func (i *instance) evalScriptLocked(ctx context.Context, src isola.Source) error {
	fn := i.module.ExportedFunction(functionEval)
	if fn == nil {
		return isolaerr.Wasm(fmt.Errorf("guest did not export %s", functionEval))
	}

	cc := &hostimport.CallContext{Name: src.Name, Args: []byte(src.Code)}
	ctx = hostimport.WithCallContext(ctx, cc)
	ctx = hostimport.WithState(ctx, i.hostState)

	results, err := fn.Call(ctx, uint64(len(cc.Name)), uint64(len(cc.Args)))
	if err != nil {
		return translateTrap(err)
	}
	if results[0] == 0 {
		return isolaerr.Guest(isolaerr.GuestUnknown, cc.ErrMsg)
	}
	return nil
}

func (i *instance) Call(ctx context.Context, name string, args []isola.CallArg, logSink isola.LogSink) (*isola.CallOutput, error) {
	if i.closed.Load() {
		return nil, isolaerr.InvalidArgument("instance is closed")
	}
	collector := newCollectSink(logSink)
	cleanup, err := i.beginCall(collector, logSink)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := i.withDeadline(ctx)
	defer cancel()

	if err := i.callLocked(ctx, name, args); err != nil {
		return nil, err
	}
	return collector.result(), nil
}

func (i *instance) CallStream(ctx context.Context, name string, args []isola.CallArg, logSink isola.LogSink) (<-chan isola.StreamItem, error) {
	if i.closed.Load() {
		return nil, isolaerr.InvalidArgument("instance is closed")
	}
	stream := newStreamSink(16)
	cleanup, err := i.beginCall(stream, logSink)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := i.withDeadline(ctx)
	go func() {
		defer cancel()
		defer cleanup()
		defer stream.close()
		if err := i.callLocked(callCtx, name, args); err != nil {
			stream.fail(err)
		}
	}()

	return stream.ch, nil
}

// streamHandleWire is the CBOR shape a stream-shaped isola.CallArg takes on
// the wire in place of an inline Value: a single-key map the guest SDK
// recognizes as "this argument is a value-iterator handle", since wazero's
// core-module ABI carries no per-argument type alongside the flat args
// array the way the original component-model `call` import's typed
// signature did.
type streamHandleWire struct {
	IsolaStreamHandle uint64 `cbor:"$isola-stream-handle"`
}

// encodeCallArgs registers every stream-shaped arg as a value-iterator
// resource (spec §4.8 step 2) and builds the flat args array the guest's
// isola_call reads, inline Values and stream handles alike.
func (i *instance) encodeCallArgs(args []isola.CallArg) (value.Value, error) {
	wireArgs := make([]value.Value, len(args))
	for idx, a := range args {
		if !a.IsStream() {
			wireArgs[idx] = a.Value()
			continue
		}
		source, closed := a.Stream()
		streamHandle, err := i.hostState.RegisterStream(source, closed)
		if err != nil {
			return value.Value{}, fmt.Errorf("registering stream argument %d: %w", idx, err)
		}
		wire, err := value.FromStruct(streamHandleWire{IsolaStreamHandle: streamHandle})
		if err != nil {
			return value.Value{}, fmt.Errorf("encoding stream argument %d: %w", idx, err)
		}
		wireArgs[idx] = wire
	}
	return value.FromStruct(wireArgs)
}

func (i *instance) callLocked(ctx context.Context, name string, args []isola.CallArg) error {
	fn := i.module.ExportedFunction(functionCall)
	if fn == nil {
		return isolaerr.Wasm(fmt.Errorf("guest did not export %s", functionCall))
	}

	argsValue, err := i.encodeCallArgs(args)
	if err != nil {
		return isolaerr.InvalidArgument(fmt.Sprintf("encoding call arguments: %v", err))
	}

	cc := &hostimport.CallContext{Name: name, Args: argsValue.CBOR()}
	ctx = hostimport.WithCallContext(ctx, cc)
	ctx = hostimport.WithState(ctx, i.hostState)

	results, err := fn.Call(ctx, uint64(len(cc.Name)), uint64(len(cc.Args)))
	if err != nil {
		return translateTrap(err)
	}
	if results[0] == 0 {
		return isolaerr.Guest(isolaerr.GuestUnknown, cc.ErrMsg)
	}
	return nil
}
