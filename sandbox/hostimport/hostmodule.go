package hostimport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/sandbox/hosthttp"
	"github.com/isola-run/isola-go/value"
)

const i32 = api.ValueTypeI32
const i64 = api.ValueTypeI64

// ModuleName is the host module guests import from, renaming the
// teacher's "wapc" host module to this sandbox's own import namespace.
const ModuleName = "isola:host"

// State is the per-instance state the isola:host exports read from the
// call's context, the Go analogue of HostImpl<T>/HostView in
// host_bindings.rs: one shared ResourceTable for value-iterator and
// future-hostcall resources, the embedder's Host, and the currently
// installed OutputSink (swapped in/out per call by the call driver).
type State struct {
	Table *resourceTable
	Host  isola.Host
	// Sink returns the OutputSink installed for the current call, or nil
	// if no call is in flight (blocking-emit then returns 0 to the guest).
	Sink func() isola.OutputSink

	mu      sync.Mutex
	pending map[handle][]byte // CBOR bytes ready for the guest to copy out via *-len/*-read
	failed  map[handle]bool

	// outBuf accumulates raw CBOR bytes across successive Continuation
	// emits for the call currently in flight, flushed and parsed into one
	// Value only on a PartialResult or End emit — the Go analogue of the
	// source crate's OutputBuffer (internal/vm/state.rs).
	outBuf []byte
}

func NewState(maxResourceTableElems uint64, host isola.Host, sink func() isola.OutputSink) *State {
	return &State{
		Table:   newResourceTable(maxResourceTableElems),
		Host:    host,
		Sink:    sink,
		pending: make(map[handle][]byte),
		failed:  make(map[handle]bool),
	}
}

// appendOutput appends cbor to the pending output buffer without flushing
// it, the Continuation case of the source crate's OutputBuffer::emit.
func (s *State) appendOutput(cbor []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outBuf = append(s.outBuf, cbor...)
}

// takeOutput appends cbor (if any) to the buffer and returns the
// concatenated bytes, resetting the buffer for the next call — the
// PartialResult/End case of OutputBuffer::emit, which always flushes
// whatever is pending alongside the triggering emit's own payload.
func (s *State) takeOutput(cbor []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append(s.outBuf, cbor...)
	s.outBuf = nil
	return buf
}

// resetOutput clears any leftover buffered bytes before a new call begins,
// in case a previous call ended without its final emit flushing them
// (e.g. a guest trap).
func (s *State) resetOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outBuf = nil
}

// RegisterStream registers a stream-shaped call argument (or a streamed
// HTTP response body) as a value-iterator resource, returning the handle
// the wire encodes for the guest to read back via
// value-iterator.{read,blocking-read,subscribe,drop} — the call-driver
// side of spec §4.8 step 2's resource registration.
func (s *State) RegisterStream(source <-chan value.Value, closed <-chan struct{}) (uint64, error) {
	h, err := s.Table.insert(newValueIterator(source, closed))
	if err != nil {
		return 0, err
	}
	return uint64(h), nil
}

// CallContext carries one guest-call invocation's request and response
// across the isola:host guest-request/guest-response/guest-error exports,
// the Go analogue of the teacher's invokeContext
// (engines/wazero/wazero.go) generalized from a single __guest_call
// operation to this sandbox's EvalScript/Call entry points.
type CallContext struct {
	Name string
	Args []byte

	Response []byte
	ErrMsg   string
}

type callContextKey struct{}

// WithCallContext attaches cc to ctx for the duration of one EvalScript or
// Call invocation; cleared by the call driver (sandbox/call.go) when the
// call returns.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

func callContextFromContext(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey{}).(*CallContext)
	return cc
}

// stashResult buffers bytes (or records a failure) for handle h so the
// guest's follow-up result.len/result.read exports can copy them into
// its own memory at its own pace — the host-module analogue of the
// teacher's __host_response/__host_response_len two-step.
func (s *State) stashResult(h handle, bytes []byte, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[h] = bytes
	s.failed[h] = failed
}

func (s *State) resultLen(h handle) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.pending[h]
	return len(b), ok
}

func (s *State) resultFailed(h handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[h]
}

func (s *State) takeResult(h handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.pending[h]
	delete(s.pending, h)
	delete(s.failed, h)
	return b
}

type stateKey struct{}

// WithState attaches state to ctx for the duration of one guest call;
// every isola:host export reads it back via ctx.
func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

func fromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// Instantiate builds and instantiates the isola:host module exports on r,
// following the teacher's instantiateWapcHost/otelwasm-otelwasm's
// instantiateHostModule pattern: each WIT operation becomes one
// api.GoModuleFunc reading its arguments from guest linear memory by
// pointer/length pairs.
func Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	h := &hostExports{}
	return r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.blockingEmit), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("kind", "cbor_ptr", "cbor_len").
		Export("blocking-emit").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.hostcall), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("name_ptr", "name_len", "payload_ptr", "payload_len").
		Export("hostcall").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.futureGet), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("future-hostcall.get").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.futureBlockingGet), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("future-hostcall.blocking-get").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.futureSubscribe), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("future-hostcall.subscribe").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.futureDrop), []api.ValueType{i32}, []api.ValueType{}).
		WithParameterNames("handle").
		Export("future-hostcall.drop").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.iteratorTryNext), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("value-iterator.read").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.iteratorBlockingNext), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("value-iterator.blocking-read").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.iteratorSubscribe), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("value-iterator.subscribe").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.iteratorDrop), []api.ValueType{i32}, []api.ValueType{}).
		WithParameterNames("handle").
		Export("value-iterator.drop").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.resultLen), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("result.len").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.resultFailed), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("result.failed").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.resultRead), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("handle", "out_ptr").
		Export("result.read").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.guestRequest), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("name_ptr", "args_ptr").
		Export("guest-request").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.guestResponse), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("ptr", "len").
		Export("guest-response").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.guestError), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("ptr", "len").
		Export("guest-error").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.httpRequest), []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("method_ptr", "method_len", "url_ptr", "url_len", "header_cbor_ptr", "header_cbor_len", "body_ptr", "body_len").
		Export("http-request").
		Instantiate(ctx)
}

// guestRequest writes the CallContext's name and args bytes, set by the
// call driver before invoking the guest's isola_eval/isola_call export,
// into guest-owned buffers at name_ptr/args_ptr — the guest already knows
// both lengths, since EvalScript/Call pass them directly as the exported
// function's i32 arguments, exactly as the teacher's __guest_call passes
// operation_len/payload_len.
func (h *hostExports) guestRequest(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr := uint32(stack[0])
	argsPtr := uint32(stack[1])

	cc := callContextFromContext(ctx)
	if cc == nil {
		return
	}
	if len(cc.Name) > 0 {
		mod.Memory().Write(namePtr, []byte(cc.Name))
	}
	if len(cc.Args) > 0 {
		mod.Memory().Write(argsPtr, cc.Args)
	}
}

// guestResponse records the guest's successful result bytes onto the
// CallContext, mirroring the teacher's __guest_response.
func (h *hostExports) guestResponse(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, length := uint32(stack[0]), uint32(stack[1])
	cc := callContextFromContext(ctx)
	if cc == nil {
		return
	}
	cc.Response = append([]byte(nil), requireRead(mod.Memory(), "guest-response", ptr, length)...)
}

// guestError records the guest's reported failure message onto the
// CallContext, mirroring the teacher's __guest_error.
func (h *hostExports) guestError(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, length := uint32(stack[0]), uint32(stack[1])
	cc := callContextFromContext(ctx)
	if cc == nil {
		return
	}
	cc.ErrMsg = requireReadString(mod.Memory(), "guest-error", ptr, length)
}

// hostExports implements every isola:host export as a method, mirroring
// the teacher's wapcHost receiver-per-export-group shape.
type hostExports struct{}

// blockingEmit reads kind/cbor_ptr/cbor_len from the stack, the three
// arguments the guest's `blocking-emit` import passes for every emitted
// item or final result, matching the source crate's
// `blocking_emit(emit_type, cbor)` host import.
//
// Continuation only appends to the per-call output buffer and never calls
// the sink; PartialResult and End each flush the buffer (their own payload
// included) into one concatenated Value and deliver it as an item or the
// final result respectively, per OutputBuffer::emit (internal/vm/state.rs).
// End with nothing buffered delivers OnComplete(nil), the "None if empty"
// case.
func (h *hostExports) blockingEmit(ctx context.Context, mod api.Module, stack []uint64) {
	kind := uint32(stack[0])
	ptr := uint32(stack[1])
	length := uint32(stack[2])

	state := fromContext(ctx)
	if state == nil || state.Sink == nil {
		stack[0] = 0
		return
	}
	sink := state.Sink()
	if sink == nil {
		stack[0] = 0
		return
	}

	cbor := append([]byte(nil), requireRead(mod.Memory(), "blocking-emit payload", ptr, length)...)

	var err error
	switch emitKind(kind) {
	case emitKindContinuation:
		state.appendOutput(cbor)
	case emitKindPartialResult:
		flushed := state.takeOutput(cbor)
		err = sink.OnItem(ctx, value.FromCBOR(flushed))
	case emitKindEnd:
		flushed := state.takeOutput(cbor)
		if len(flushed) == 0 {
			err = sink.OnComplete(ctx, nil)
		} else {
			v := value.FromCBOR(flushed)
			err = sink.OnComplete(ctx, &v)
		}
	}
	if err != nil {
		stack[0] = 0
		return
	}
	stack[0] = 1
}

// emitKind mirrors sandbox.EmitKind's values without importing package
// sandbox (which imports hostimport), keeping the two packages acyclic;
// blockingEmit decodes the guest's raw kind argument with it directly.
type emitKind uint32

const (
	emitKindContinuation emitKind = iota
	emitKindPartialResult
	emitKindEnd
)

func (h *hostExports) hostcall(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen := uint32(stack[0]), uint32(stack[1])
	payloadPtr, payloadLen := uint32(stack[2]), uint32(stack[3])

	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}

	name := requireReadString(mod.Memory(), "hostcall name", namePtr, nameLen)
	payload := value.FromCBOR(append([]byte(nil), requireRead(mod.Memory(), "hostcall payload", payloadPtr, payloadLen)...))

	future := newFutureHostcall(ctx, func(ctx context.Context) (value.Value, error) {
		return state.Host.Hostcall(ctx, name, payload)
	})

	h64, err := state.Table.insert(future)
	if err != nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(h64)
}

func (h *hostExports) futureGet(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))

	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	future, ok := res.(*futureHostcall)
	if !ok {
		stack[0] = 0
		return
	}

	v, err, available := future.get()
	if !available {
		stack[0] = 0
		return
	}
	if err != nil {
		state.stashResult(handle, []byte(err.Error()), true)
	} else {
		state.stashResult(handle, v.CBOR(), false)
	}
	stack[0] = 1
}

// futureSubscribe implements the guest-visible `subscribe` operation:
// reports, without blocking, whether get() would return a result.
func (h *hostExports) futureSubscribe(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	future, ok := res.(*futureHostcall)
	if !ok {
		stack[0] = 0
		return
	}
	if future.ready() {
		stack[0] = 1
		return
	}
	stack[0] = 0
}

// futureBlockingGet blocks until the call completes (or ctx is done), then
// stashes its result exactly as futureGet does — the blocking counterpart
// wasmtime's `get` exposes natively as an async WIT import, reproduced
// here as a distinct export since wazero's core-module exports are never
// implicitly awaited.
func (h *hostExports) futureBlockingGet(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	future, ok := res.(*futureHostcall)
	if !ok {
		stack[0] = 0
		return
	}
	if err := future.wait(ctx); err != nil {
		stack[0] = 0
		return
	}

	v, err, available := future.get()
	if !available {
		stack[0] = 0
		return
	}
	if err != nil {
		state.stashResult(handle, []byte(err.Error()), true)
	} else {
		state.stashResult(handle, v.CBOR(), false)
	}
	stack[0] = 1
}

func (h *hostExports) futureDrop(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		return
	}
	if res, ok := state.Table.remove(handle); ok {
		if future, ok := res.(*futureHostcall); ok {
			future.drop()
		}
	}
}

func (h *hostExports) iteratorTryNext(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	it, ok := res.(*valueIterator)
	if !ok {
		stack[0] = 0
		return
	}
	v, hasValue, available := it.tryNext()
	if !available {
		stack[0] = 0
		return
	}
	if hasValue {
		state.stashResult(handle, v.CBOR(), false)
	} else {
		state.stashResult(handle, nil, true)
	}
	stack[0] = 1
}

func (h *hostExports) iteratorBlockingNext(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	it, ok := res.(*valueIterator)
	if !ok {
		stack[0] = 0
		return
	}
	v, err := it.blockingNext(ctx)
	if err != nil {
		stack[0] = 0
		return
	}
	state.stashResult(handle, v.CBOR(), false)
	stack[0] = 1
}

// iteratorSubscribe implements the guest-visible `subscribe` operation:
// reports, without blocking, whether the stream has a lookahead item
// buffered or has ended.
func (h *hostExports) iteratorSubscribe(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	res, ok := state.Table.get(handle)
	if !ok {
		stack[0] = 0
		return
	}
	it, ok := res.(*valueIterator)
	if !ok {
		stack[0] = 0
		return
	}
	if it.ready() {
		stack[0] = 1
		return
	}
	stack[0] = 0
}

func (h *hostExports) iteratorDrop(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		return
	}
	state.Table.remove(handle)
}

func (h *hostExports) resultLen(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	n, ok := state.resultLen(handle)
	if !ok {
		stack[0] = 0
		return
	}
	stack[0] = uint64(n)
}

func (h *hostExports) resultFailed(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}
	if state.resultFailed(handle) {
		stack[0] = 1
		return
	}
	stack[0] = 0
}

func (h *hostExports) resultRead(ctx context.Context, mod api.Module, stack []uint64) {
	handle := handle(uint32(stack[0]))
	outPtr := uint32(stack[1])

	state := fromContext(ctx)
	if state == nil {
		return
	}
	bytes := state.takeResult(handle)
	if len(bytes) == 0 {
		return
	}
	mod.Memory().Write(outPtr, bytes)
}

// httpResponseWire is the CBOR shape an `http-request` future resolves to:
// status and headers inline, and the response body as a value-iterator
// handle rather than inline bytes, following streamHandleWire's convention
// for passing a resource handle across the flat args/result CBOR
// boundary — spec §4.12's streamed-body-to-ValueIterator adapter.
type httpResponseWire struct {
	StatusCode       int         `cbor:"status_code"`
	Header           http.Header `cbor:"header"`
	BodyStreamHandle uint64      `cbor:"body_stream_handle"`
}

// httpRequest reads a guest-built HTTP request out of linear memory and
// dispatches it through state.Host.HTTPRequest on a goroutine, returning a
// future-hostcall handle the guest polls exactly like a regular `hostcall`
// future — spec §6's `http_request` capability, routed through
// isola.Host.HTTPRequest (sandbox/hosthttp.Bridge in the common embedder
// wiring) rather than a second, bespoke async mechanism.
func (h *hostExports) httpRequest(ctx context.Context, mod api.Module, stack []uint64) {
	methodPtr, methodLen := uint32(stack[0]), uint32(stack[1])
	urlPtr, urlLen := uint32(stack[2]), uint32(stack[3])
	headerPtr, headerLen := uint32(stack[4]), uint32(stack[5])
	bodyPtr, bodyLen := uint32(stack[6]), uint32(stack[7])

	state := fromContext(ctx)
	if state == nil {
		stack[0] = 0
		return
	}

	method := requireReadString(mod.Memory(), "http-request method", methodPtr, methodLen)
	url := requireReadString(mod.Memory(), "http-request url", urlPtr, urlLen)
	body := append([]byte(nil), requireRead(mod.Memory(), "http-request body", bodyPtr, bodyLen)...)

	var header http.Header
	if headerLen > 0 {
		headerCBOR := append([]byte(nil), requireRead(mod.Memory(), "http-request headers", headerPtr, headerLen)...)
		if err := value.FromCBOR(headerCBOR).ToStruct(&header); err != nil {
			stack[0] = 0
			return
		}
	}

	future := newFutureHostcall(ctx, func(ctx context.Context) (value.Value, error) {
		resp, err := state.Host.HTTPRequest(ctx, &isola.HTTPRequest{Method: method, URL: url, Header: header, Body: body})
		if err != nil {
			return value.Nil, err
		}

		bodyStream := hosthttp.StreamBody(ctx, resp.Body)
		streamHandle, err := state.RegisterStream(bodyStream, nil)
		if err != nil {
			return value.Nil, err
		}

		return value.FromStruct(httpResponseWire{
			StatusCode:       resp.StatusCode,
			Header:           resp.Header,
			BodyStreamHandle: streamHandle,
		})
	})

	h64, err := state.Table.insert(future)
	if err != nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(h64)
}

// requireReadString casts requireRead, matching the teacher's helper of
// the same name in engines/wazero/wazero.go.
func requireReadString(mem api.Memory, fieldName string, offset, byteCount uint32) string {
	return string(requireRead(mem, fieldName, offset, byteCount))
}

// requireRead panics on an out-of-range guest pointer/length pair, the
// same contract the teacher's requireRead enforces — a malformed
// pointer from the guest is a guest bug, not a recoverable host error.
func requireRead(mem api.Memory, fieldName string, offset, byteCount uint32) []byte {
	buf, ok := mem.Read(offset, byteCount)
	if !ok {
		panic(fmt.Errorf("isola: guest passed out-of-range memory for %s", fieldName))
	}
	return buf
}
