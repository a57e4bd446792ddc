package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimitIsEnforced(t *testing.T) {
	l := New(16 * wasmPageSize)

	assert.True(t, l.MemoryGrowing(16*wasmPageSize))
	assert.False(t, l.MemoryGrowing(16*wasmPageSize+1))
	assert.Equal(t, uint32(16), l.Pages())
}

func TestTableLimitIsEnforced(t *testing.T) {
	l := New(128 * 1024)

	assert.Equal(t, uint64(2048), l.MaxTableElementsHard())
	assert.True(t, l.TableGrowing(2048))
	assert.False(t, l.TableGrowing(2049))
}

func TestTableLimitHasAFloor(t *testing.T) {
	l := New(1024)

	assert.Equal(t, uint64(minTableElements), l.MaxTableElementsHard())
	assert.True(t, l.TableGrowing(minTableElements))
	assert.False(t, l.TableGrowing(minTableElements+1))
}
