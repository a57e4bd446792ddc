package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	isola "github.com/isola-run/isola-go"
)

// emptyWasmModule is the minimal valid wasm binary: just the magic number
// and version, no sections. It compiles under wazero without exporting
// anything, which is all a registry-wiring test needs.
var emptyWasmModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	engine, err := NewEngine(ctx, isola.EngineConfig{CompileConcurrency: 2}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(ctx) })
	return engine
}

func TestRegistryGetReturnsCompiledTemplate(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	reg, err := NewRegistry(ctx, engine, []Bundle{
		{Language: isola.LanguagePython, Wasm: emptyWasmModule},
	})
	require.NoError(t, err)

	tmpl, ok := reg.Get(isola.LanguagePython)
	assert.True(t, ok)
	assert.NotNil(t, tmpl)

	_, ok = reg.Get(isola.LanguageJavaScript)
	assert.False(t, ok)
}

func TestRegistryCloseClosesEveryTemplate(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	reg, err := NewRegistry(ctx, engine, []Bundle{
		{Language: isola.LanguagePython, Wasm: emptyWasmModule},
		{Language: isola.LanguageJavaScript, Wasm: emptyWasmModule},
	})
	require.NoError(t, err)

	assert.NoError(t, reg.Close(ctx))
}

func TestRegistryCompileFailureAbortsWholeBuild(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := NewRegistry(ctx, engine, []Bundle{
		{Language: isola.LanguagePython, Wasm: []byte("not wasm")},
	})
	assert.Error(t, err)
}
