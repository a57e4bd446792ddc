package trace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vecCollector struct {
	mu     sync.Mutex
	starts []SpanRecord
	ends   []SpanRecord
	events []EventRecord
}

func (c *vecCollector) OnSpanStart(s SpanRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, s)
}

func (c *vecCollector) OnSpanEnd(s SpanRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends = append(c.ends, s)
}

func (c *vecCollector) OnEvent(e EventRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestSpanAndEventAreRecorded(t *testing.T) {
	collector := &vecCollector{}
	ctx, err := Attach(context.Background(), collector)
	require.NoError(t, err)

	ctx, span := StartSpan(ctx, "outer")
	require.NotNil(t, span)

	Event(ctx, "inside-outer")

	_, inner := StartSpan(ctx, "inner")
	inner.End()

	span.End()

	assert.Len(t, collector.starts, 2)
	assert.Len(t, collector.ends, 2)
	assert.Len(t, collector.events, 1)
	assert.Equal(t, collector.starts[0].Name, "outer")
	assert.Equal(t, uint64(0), collector.starts[0].ParentID)
	assert.Equal(t, collector.starts[0].SpanID, collector.starts[1].ParentID)
}

func TestNestedAttachIsRejected(t *testing.T) {
	ctx, err := Attach(context.Background(), &vecCollector{})
	require.NoError(t, err)

	_, err = Attach(ctx, &vecCollector{})
	assert.ErrorIs(t, err, ErrAlreadyAttached)
}

func TestEventWithoutAttachedCollectorIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Event(context.Background(), "ignored")
	})
}

type filteringCollector struct {
	vecCollector
}

func (filteringCollector) FieldFilter() *FieldFilter {
	return &FieldFilter{IgnorePrefix: []string{"otel."}}
}

func TestFieldFilterDropsIgnoredPrefixes(t *testing.T) {
	collector := &filteringCollector{}
	ctx, err := Attach(context.Background(), collector)
	require.NoError(t, err)

	_, span := StartSpan(ctx, "filtered", Property{Name: "otel.internal", Value: "x"}, Property{Name: "kept", Value: "y"})
	span.End()

	require.Len(t, collector.starts, 1)
	assert.Equal(t, []Property{{Name: "kept", Value: "y"}}, collector.starts[0].Properties)
}
