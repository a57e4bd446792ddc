package hostimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceTableInsertGetRemove(t *testing.T) {
	rt := newResourceTable(8)

	h, err := rt.insert("hello")
	require.NoError(t, err)
	assert.NotEqual(t, handle(0), h)

	v, ok := rt.get(h)
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	removed, ok := rt.remove(h)
	require.True(t, ok)
	assert.Equal(t, "hello", removed)

	_, ok = rt.get(h)
	assert.False(t, ok)
}

func TestResourceTableEnforcesBudget(t *testing.T) {
	rt := newResourceTable(2)

	_, err := rt.insert(1)
	require.NoError(t, err)
	_, err = rt.insert(2)
	require.NoError(t, err)

	_, err = rt.insert(3)
	assert.Error(t, err)
	assert.Equal(t, 2, rt.len())
}

func TestResourceTableHandlesAreUnique(t *testing.T) {
	rt := newResourceTable(8)

	a, err := rt.insert("a")
	require.NoError(t, err)
	b, err := rt.insert("b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
