// Package isola hosts untrusted Python/JavaScript guest bundles compiled
// to WebAssembly inside per-call sandboxes, bounded by a hard memory cap,
// a cooperative context-deadline watchdog and a resource-table budget.
//
// Grounded on the teacher's wapc.Engine/wapc.Module/wapc.Instance surface
// (_examples/JanFalkin-wapc-go/wapc.go), generalized from waPC's
// single-guest-per-module shape to one Template per guest Language served
// by a Registry, and from byte-slice request/response payloads to
// structured CBOR Values.
package isola

import (
	"context"
	"net/http"
	"time"

	"github.com/isola-run/isola-go/value"
)

// Language identifies which guest runtime a Source targets.
type Language int

const (
	LanguagePython Language = iota
	LanguageJavaScript
)

func (l Language) String() string {
	switch l {
	case LanguagePython:
		return "python"
	case LanguageJavaScript:
		return "javascript"
	default:
		return "unknown"
	}
}

// Source is one guest script to evaluate inside an instantiated sandbox.
type Source struct {
	Language Language
	Code     string
	// Name labels the source for diagnostics and trace spans; it is not
	// interpreted as a path.
	Name string
}

// DirectoryMapping preopens a host directory into the guest's view of the
// filesystem. The directory is mounted read-only; DirPerms and FilePerms
// are hashed into the compile-cache key and do not otherwise change the
// mount.
type DirectoryMapping struct {
	Guest     string
	Host      string
	DirPerms  uint32
	FilePerms uint32
}

// ModuleConfig configures one compiled guest template: its resource
// preopens, environment, optional prelude script and hard memory cap. It
// is the Go analogue of the source crate's ModuleConfig and participates
// bit-for-bit in the compile-cache key (see internal/enginecache).
type ModuleConfig struct {
	// CacheDir, if non-empty, enables on-disk compile caching.
	CacheDir string

	DirectoryMappings []DirectoryMapping
	Env               map[string]string
	Prelude           string
	HasPrelude        bool

	// MaxMemory is the hard linear-memory cap, in bytes, enforced by
	// internal/limiter.
	MaxMemory uint64
}

// EngineConfig configures the process-wide sandbox.Engine shared by every
// Template; each Template still builds its own wazero runtime.
type EngineConfig struct {
	// CompileConcurrency bounds how many guest compiles run at once
	// (internal/workerpool).
	CompileConcurrency int64
	// CallTimeout is the default wall-clock budget for Instance.Call when
	// the caller's context carries no deadline of its own.
	CallTimeout time.Duration
}

// LogLevel classifies one captured guest log line.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelCritical
	LogLevelStdout
	LogLevelStderr
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelCritical:
		return "critical"
	case LogLevelStdout:
		return "stdout"
	case LogLevelStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// LogContext names the origin of a captured log line: the guest's own
// stdout/stderr streams, or a named source (e.g. a structured log import).
type LogContext struct {
	Stdout bool
	Stderr bool
	Other  string
}

// HTTPRequest is the host-capability HTTP request surface a guest may
// trigger via the `http-request` hostcall.
type HTTPRequest struct {
	Method string      `cbor:"method"`
	URL    string      `cbor:"url"`
	Header http.Header `cbor:"header"`
	Body   []byte      `cbor:"body"`
}

// HTTPResponse is the corresponding materialized response. An embedder
// calling Host.HTTPRequest directly (outside of a guest call, e.g. from
// its own harness code) gets the fully buffered Body here; the
// guest-facing `http-request` hostimport wraps this into its own wire
// shape that exposes the body as a ValueIterator handle instead of
// inlining every byte through guest linear memory in one copy (see
// sandbox/hostimport's httpResponseWire).
type HTTPResponse struct {
	StatusCode int         `cbor:"status_code"`
	Header     http.Header `cbor:"header"`
	Body       []byte      `cbor:"body"`
}

// Host is the set of capabilities an embedder exposes to every guest
// instance: an arbitrary named hostcall round-trip, and an HTTP bridge.
type Host interface {
	Hostcall(ctx context.Context, name string, payload value.Value) (value.Value, error)
	HTTPRequest(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// OutputSink receives the emitted items, final result and captured log
// lines of one Instance.Call or Instance.CallStream invocation.
type OutputSink interface {
	OnItem(ctx context.Context, v value.Value) error
	OnComplete(ctx context.Context, v *value.Value) error
	OnLog(ctx context.Context, level LogLevel, logCtx LogContext, message string) error
}

// LogSink receives only captured log lines, for callers (like EvalScript)
// that have no item/result stream to multiplex.
type LogSink interface {
	OnLog(ctx context.Context, level LogLevel, logCtx LogContext, message string) error
}

// StreamItem is one element of a CallStream result: either an emitted item,
// the final result, or a terminal error — at most one of these three is
// set. A final result with no value (an End emit with nothing buffered)
// arrives as a StreamItem with all three fields nil.
type StreamItem struct {
	Item   *value.Value
	Result *value.Value
	Err    error
}

// CallOutput is the fully collected result of a non-streaming Call: every
// item the guest emitted, in order, plus the final result value if the
// guest completed normally.
type CallOutput struct {
	Items  []value.Value
	Result *value.Value
}

// InstanceOption configures one Template.Instantiate call.
type InstanceOption func(*instanceOptions)

type instanceOptions struct {
	callTimeout time.Duration
}

// WithCallTimeout overrides the EngineConfig default call timeout for one
// instance.
func WithCallTimeout(d time.Duration) InstanceOption {
	return func(o *instanceOptions) { o.callTimeout = d }
}

func newInstanceOptions(opts []InstanceOption) instanceOptions {
	var o instanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ResolveCallTimeout applies opts over defaultTimeout and returns the
// effective per-call timeout, letting sandbox.Template.Instantiate resolve
// an InstanceOption set without reaching into this package's unexported
// instanceOptions type.
func ResolveCallTimeout(defaultTimeout time.Duration, opts ...InstanceOption) time.Duration {
	o := newInstanceOptions(opts)
	if o.callTimeout <= 0 {
		return defaultTimeout
	}
	return o.callTimeout
}

// CallArg is one argument to Instance.Call/CallStream: either an inline
// Value or a stream-shaped argument. A stream-shaped argument is
// registered as a ValueIterator resource in the instance's resource table
// before the guest entry point runs, and the guest receives its handle in
// place of an inline value — the Go rendition of spec §4.8 step 2
// ("Stream-shaped arguments register a new ValueIterator... and pass the
// resource handle"), since wazero's core-module ABI carries no per-call
// WIT-typed signature to distinguish the two automatically the way the
// original component-model `call` import did.
type CallArg struct {
	value  value.Value
	source <-chan value.Value
	closed <-chan struct{}
	stream bool
}

// ValueArg wraps an inline Value as a call argument.
func ValueArg(v value.Value) CallArg {
	return CallArg{value: v}
}

// StreamArg wraps a producer channel as a stream-shaped call argument.
// source is read until it closes; closed, if non-nil, lets the caller end
// the stream early (e.g. on its own cancellation) independent of source.
func StreamArg(source <-chan value.Value, closed <-chan struct{}) CallArg {
	return CallArg{source: source, closed: closed, stream: true}
}

// IsStream reports whether a is a stream-shaped argument.
func (a CallArg) IsStream() bool {
	return a.stream
}

// Value returns a's inline Value; only meaningful when !a.IsStream().
func (a CallArg) Value() value.Value {
	return a.value
}

// Stream returns a's producer and early-close channels; only meaningful
// when a.IsStream().
func (a CallArg) Stream() (source <-chan value.Value, closed <-chan struct{}) {
	return a.source, a.closed
}

// Template is a compiled guest bundle, ready to be instantiated into one or
// more independent sandboxes.
type Template interface {
	Instantiate(ctx context.Context, host Host, opts ...InstanceOption) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is one running sandbox: a compiled guest module plus its own
// linear memory, resource table and deadline-bounded call driver. Call and
// CallStream each install their own internal OutputSink for the duration
// of the invocation (collecting into a CallOutput, or forwarding to the
// returned channel, respectively) and route captured log lines to
// logSink — an embedder never implements OutputSink directly unless it
// needs lower-level access than Call provides.
type Instance interface {
	EvalScript(ctx context.Context, src Source, logSink LogSink) error
	Call(ctx context.Context, name string, args []CallArg, logSink LogSink) (*CallOutput, error)
	CallStream(ctx context.Context, name string, args []CallArg, logSink LogSink) (<-chan StreamItem, error)
	Close(ctx context.Context) error
}
