package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/api"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/isolaerr"
	"github.com/isola-run/isola-go/sandbox/hostimport"
	"github.com/isola-run/isola-go/sandbox/logcapture"
)

// functionEval is the guest export EvalScript drives (called with the
// source name and code lengths; returns 0 on a guest-reported error),
// generalized from the teacher's functionGuestCall ("__guest_call") to
// this sandbox's two distinct entry points (evaluating a script body vs.
// calling an already-defined guest function).
const functionEval = "isola_eval"

// functionCall is the guest export Call/CallStream drive.
const functionCall = "isola_call"

// instance is one running sandbox: a compiled guest module instantiated
// against its own linear memory, resource table and deadline-bounded call
// driver. The Go analogue of the teacher's wazero.Instance
// (engines/wazero/wazero.go), generalized from a single guestCall
// function to isola_eval/isola_call and from raw bytes to CBOR Values.
type instance struct {
	id      string
	tmpl    *template
	module  api.Module
	engine  *Engine
	host    isola.Host
	timeout time.Duration

	hostState    *hostimport.State
	stdoutSlot   *logcapture.SinkSlot
	stderrSlot   *logcapture.SinkSlot
	stdoutWriter *logcapture.Writer
	stderrWriter *logcapture.Writer

	// currentSink is swapped in/out for the duration of exactly one call by
	// the call driver (call.go); blocking-emit reads it back via
	// hostState.Sink.
	mu          sync.Mutex
	currentSink isola.OutputSink
	inCall      bool

	closed atomic.Bool
}

var _ isola.Instance = (*instance)(nil)

func newInstance(tmpl *template, host isola.Host, opts instanceOptionsResolved) *instance {
	inst := &instance{
		id:         uuid.NewString(),
		tmpl:       tmpl,
		engine:     tmpl.engine,
		host:       host,
		timeout:    opts.callTimeout,
		stdoutSlot: &logcapture.SinkSlot{},
		stderrSlot: &logcapture.SinkSlot{},
	}

	inst.hostState = hostimport.NewState(tmpl.lim.MaxTableElementsHard(), host, inst.sink)

	bgCtx := context.Background()
	inst.stdoutWriter = logcapture.New(bgCtx, logcapture.LevelInfo, logcapture.StreamStdout, inst.stdoutSlot)
	inst.stderrWriter = logcapture.New(bgCtx, logcapture.LevelWarn, logcapture.StreamStderr, inst.stderrSlot)

	return inst
}

// sink returns the OutputSink installed for the call currently in flight,
// or nil between calls — read by hostimport's blocking-emit export via
// hostState.Sink.
func (i *instance) sink() isola.OutputSink {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentSink
}

// withDeadline applies the instance's configured call timeout when ctx
// carries no deadline of its own; the template's Runtime was built with
// WithCloseOnContextDone(true), so wazero itself interrupts the in-flight
// call — including a pathological busy loop with no host import calls —
// once that deadline elapses, via the check it inserts at function calls
// and loop back-edges.
func (i *instance) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || i.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

// translateTrap classifies a wazero call failure (trap, out-of-memory,
// closed-on-context-done) into the KindWasm taxonomy. A call cut short by
// its context's deadline or cancellation carries isolaerr.ErrInterrupted.
func translateTrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return isolaerr.Wasm(fmt.Errorf("%w: %w", isolaerr.ErrInterrupted, err))
	}
	return isolaerr.Wrap(isolaerr.KindWasm, err, "guest call failed")
}

func (i *instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.module.Close(ctx)
}
