package enginecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsDeterministic(t *testing.T) {
	fp := FingerprintFromVersion("wazero-test-1")
	cfg := Config{
		DirectoryMappings: []DirectoryMapping{{Guest: "/data", Host: "/tmp/data", DirPerms: 1, FilePerms: 1}},
		Env:               []EnvVar{{Key: "FOO", Value: "bar"}},
		Prelude:           "import json",
		HasPrelude:        true,
		MaxMemory:         64 << 20,
	}
	wasm := []byte("\x00asm\x01\x00\x00\x00")

	a := Key(fp, cfg, wasm)
	b := Key(fp, cfg, wasm)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKeyChangesWithConfig(t *testing.T) {
	fp := FingerprintFromVersion("wazero-test-1")
	wasm := []byte("\x00asm\x01\x00\x00\x00")

	base := Config{MaxMemory: 64 << 20}
	changedMemory := Config{MaxMemory: 128 << 20}
	changedEnv := Config{MaxMemory: 64 << 20, Env: []EnvVar{{Key: "X", Value: "1"}}}

	keyBase := Key(fp, base, wasm)
	assert.NotEqual(t, keyBase, Key(fp, changedMemory, wasm))
	assert.NotEqual(t, keyBase, Key(fp, changedEnv, wasm))
}

func TestKeyChangesWithFingerprint(t *testing.T) {
	cfg := Config{MaxMemory: 64 << 20}
	wasm := []byte("\x00asm\x01\x00\x00\x00")

	keyA := Key(FingerprintFromVersion("v1"), cfg, wasm)
	keyB := Key(FingerprintFromVersion("v2"), cfg, wasm)
	assert.NotEqual(t, keyA, keyB)
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	_, ok := store.Load("deadbeef")
	assert.False(t, ok)

	require.NoError(t, store.Store("deadbeef", []byte("artifact-bytes")))

	got, ok := store.Load("deadbeef")
	require.True(t, ok)
	assert.Equal(t, []byte("artifact-bytes"), got)

	assert.FileExists(t, filepath.Join(dir, "deadbeef.cwasm"))
}

func TestStoreOverwriteByConcurrentWinnerSucceeds(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Store("key", []byte("first")))
	require.NoError(t, store.Store("key", []byte("second")))

	got, ok := store.Load("key")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	_, err := NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
