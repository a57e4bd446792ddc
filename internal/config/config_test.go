package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeModuleConfigAppliesDefaults(t *testing.T) {
	cfg, err := DecodeModuleConfig(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, uint64(defaultMaxMemory), cfg.MaxMemory)
	assert.False(t, cfg.HasPrelude)
}

func TestDecodeModuleConfigOverridesAndDirectoryMappings(t *testing.T) {
	raw := map[string]any{
		"maxMemory": 1024,
		"prelude":   "import sandbox",
		"env":       map[string]any{"FOO": "bar"},
		"directoryMappings": []any{
			map[string]any{"guest": "/data", "host": "/tmp/data", "dirPerms": 5, "filePerms": 6},
		},
	}
	cfg, err := DecodeModuleConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), cfg.MaxMemory)
	assert.True(t, cfg.HasPrelude)
	assert.Equal(t, "bar", cfg.Env["FOO"])
	require.Len(t, cfg.DirectoryMappings, 1)
	assert.Equal(t, "/data", cfg.DirectoryMappings[0].Guest)
}

func TestDecodeEngineConfigParsesDurationStrings(t *testing.T) {
	cfg, err := DecodeEngineConfig(map[string]any{"callTimeout": "45s", "compileConcurrency": 8})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout)
	assert.Equal(t, int64(8), cfg.CompileConcurrency)
}
