// Package trace implements the span/event collection layer: a pluggable
// Collector receives structured records for spans opened under a root
// Tracer, with field recording filtered by a per-collector FieldFilter.
//
// Grounded on the original Rust trace crate's collect/ module
// (collector.rs, tracer.rs, span_ext.rs, visit.rs), re-expressed over
// context.Context span chaining since Go has no tracing-subscriber
// extension-registry analogue in the retrieved corpus.
package trace

import (
	"strings"
	"sync/atomic"
)

// Collector receives span/event records from a Tracer. Implementations are
// expected to be lock-free or lightly contended; the layer makes no
// ordering guarantees across independent scopes, only within one.
type Collector interface {
	OnSpanStart(span SpanRecord)
	OnSpanEnd(span SpanRecord)
	OnEvent(event EventRecord)
}

// FieldFilterer optionally narrows which properties a Collector wants
// recorded. A Collector that doesn't implement it records everything.
type FieldFilterer interface {
	FieldFilter() *FieldFilter
}

// FieldFilter drops properties whose name carries one of the ignored
// prefixes, e.g. "otel.*".
type FieldFilter struct {
	IgnorePrefix []string
}

// Enabled reports whether name survives the filter.
func (f *FieldFilter) Enabled(name string) bool {
	if f == nil {
		return true
	}
	for _, prefix := range f.IgnorePrefix {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// SpanRecord describes one span's lifetime.
type SpanRecord struct {
	SpanID         uint64
	ParentID       uint64
	BeginTimeUnix  int64 // nanoseconds since Unix epoch
	DurationNanos  int64
	Name           string
	Properties     []Property
}

// EventRecord describes one point-in-time event attributed to a span.
type EventRecord struct {
	ParentSpanID   uint64
	Name           string
	TimestampUnix  int64 // nanoseconds since Unix epoch
	Properties     []Property
}

// Property is a single recorded field, already rendered to its string form
// (mirroring the source crate's tracing::field::Visit-driven stringification).
type Property struct {
	Name  string
	Value string
}

var spanIDGenerator atomic.Uint64

// nextSpanID hands out process-unique span identifiers. The source crate
// salts a thread-local generator with randomness to keep IDs cheap to
// allocate without a shared atomic; a single shared atomic counter is the
// idiomatic Go equivalent and carries no correctness difference since Go's
// scheduler gives no per-goroutine identity to salt with.
func nextSpanID() uint64 {
	return spanIDGenerator.Add(1)
}
