package trace

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyAttached is returned by Attach when the given context's scope
// already carries a Collector; the source crate rejects nested collectors
// on the same scope the same way.
var ErrAlreadyAttached = errors.New("trace: a collector is already attached to this scope")

type tracerState struct {
	collector Collector
	filter    *FieldFilter
}

type spanContext struct {
	id uint64
}

type tracerStateKey struct{}
type spanContextKey struct{}

// Attach installs collector as the root Tracer for ctx's scope. Every
// descendant context derived from the result routes span/event records to
// collector, walking the ancestor chain to find the nearest attachment —
// here, simply the nearest context.Value lookup, since Go's context chain
// already implements "nearest ancestor wins".
func Attach(ctx context.Context, collector Collector) (context.Context, error) {
	if _, ok := ctx.Value(tracerStateKey{}).(*tracerState); ok {
		return ctx, ErrAlreadyAttached
	}

	var filter *FieldFilter
	if ff, ok := collector.(FieldFilterer); ok {
		filter = ff.FieldFilter()
	}

	state := &tracerState{collector: collector, filter: filter}
	return context.WithValue(ctx, tracerStateKey{}, state), nil
}

// Span represents one open span. Calling End records its duration and
// forwards it to the attached Collector; a Span obtained from a context with
// no attached Collector is nil and End is a no-op on it.
type Span struct {
	state    *tracerState
	id       uint64
	parentID uint64
	name     string
	start    time.Time
}

// StartSpan opens a child span under ctx's current span (or the scope root,
// if none is open yet) and returns a context carrying it plus the Span
// handle. If no Collector is attached to ctx's scope, StartSpan is a no-op:
// the returned context is ctx unchanged and the Span is nil.
func StartSpan(ctx context.Context, name string, properties ...Property) (context.Context, *Span) {
	state, ok := ctx.Value(tracerStateKey{}).(*tracerState)
	if !ok {
		return ctx, nil
	}

	var parentID uint64
	if sc, ok := ctx.Value(spanContextKey{}).(*spanContext); ok {
		parentID = sc.id
	}

	id := nextSpanID()
	start := time.Now()
	state.collector.OnSpanStart(SpanRecord{
		SpanID:        id,
		ParentID:      parentID,
		BeginTimeUnix: start.UnixNano(),
		Name:          name,
		Properties:    filterProperties(state.filter, properties),
	})

	span := &Span{state: state, id: id, parentID: parentID, name: name, start: start}
	newCtx := context.WithValue(ctx, spanContextKey{}, &spanContext{id: id})
	return newCtx, span
}

// End closes the span, recording its elapsed duration.
func (s *Span) End(properties ...Property) {
	if s == nil {
		return
	}
	s.state.collector.OnSpanEnd(SpanRecord{
		SpanID:        s.id,
		ParentID:      s.parentID,
		DurationNanos: time.Since(s.start).Nanoseconds(),
		Name:          s.name,
		Properties:    filterProperties(s.state.filter, properties),
	})
}

// Event records a point-in-time event attributed to ctx's current span (or
// the scope root span, id 0, if none is open). A no-op if no Collector is
// attached.
func Event(ctx context.Context, name string, properties ...Property) {
	state, ok := ctx.Value(tracerStateKey{}).(*tracerState)
	if !ok {
		return
	}

	var parentID uint64
	if sc, ok := ctx.Value(spanContextKey{}).(*spanContext); ok {
		parentID = sc.id
	}

	state.collector.OnEvent(EventRecord{
		ParentSpanID:  parentID,
		Name:          name,
		TimestampUnix: time.Now().UnixNano(),
		Properties:    filterProperties(state.filter, properties),
	})
}

func filterProperties(filter *FieldFilter, properties []Property) []Property {
	if filter == nil || len(properties) == 0 {
		return properties
	}
	out := make([]Property, 0, len(properties))
	for _, p := range properties {
		if filter.Enabled(p.Name) {
			out = append(out, p)
		}
	}
	return out
}
