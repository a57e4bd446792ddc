// Package config decodes the loosely-typed configuration map a CLI entry
// point reads from a file or flag set into the strongly-typed
// isola.EngineConfig/ModuleConfig structs, using mapstructure tags the
// way sandrolain-events-bridge's RunnerConfig does for its own WASM
// runner configuration.
package config

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	isola "github.com/isola-run/isola-go"
)

// DirectoryMapping mirrors isola.DirectoryMapping with mapstructure tags
// for file/flag-sourced decoding.
type DirectoryMapping struct {
	Guest     string `mapstructure:"guest"`
	Host      string `mapstructure:"host"`
	DirPerms  uint32 `mapstructure:"dirPerms"`
	FilePerms uint32 `mapstructure:"filePerms"`
}

// ModuleConfig mirrors isola.ModuleConfig with mapstructure tags for
// file/flag-sourced decoding.
type ModuleConfig struct {
	CacheDir          string             `mapstructure:"cacheDir"`
	DirectoryMappings []DirectoryMapping `mapstructure:"directoryMappings"`
	Env               map[string]string  `mapstructure:"env"`
	Prelude           string             `mapstructure:"prelude"`
	MaxMemory         uint64             `mapstructure:"maxMemory"`
}

// EngineConfig mirrors isola.EngineConfig with mapstructure tags.
type EngineConfig struct {
	CompileConcurrency int64         `mapstructure:"compileConcurrency"`
	CallTimeout        time.Duration `mapstructure:"callTimeout"`
}

// defaultMaxMemory is applied when the decoded document omits maxMemory.
const defaultMaxMemory = 64 << 20

// defaultCallTimeout is applied when the decoded document omits
// callTimeout.
const defaultCallTimeout = 30 * time.Second

// DecodeModuleConfig decodes raw (typically a parsed YAML/JSON document)
// into a ModuleConfig and converts it to isola.ModuleConfig.
func DecodeModuleConfig(raw map[string]any) (isola.ModuleConfig, error) {
	cfg := ModuleConfig{MaxMemory: defaultMaxMemory}
	if err := decode(raw, &cfg); err != nil {
		return isola.ModuleConfig{}, errors.Wrap(err, "config: decode ModuleConfig")
	}

	mappings := make([]isola.DirectoryMapping, 0, len(cfg.DirectoryMappings))
	for _, m := range cfg.DirectoryMappings {
		mappings = append(mappings, isola.DirectoryMapping{
			Guest: m.Guest, Host: m.Host, DirPerms: m.DirPerms, FilePerms: m.FilePerms,
		})
	}

	return isola.ModuleConfig{
		CacheDir:          cfg.CacheDir,
		DirectoryMappings: mappings,
		Env:               cfg.Env,
		Prelude:           cfg.Prelude,
		HasPrelude:        cfg.Prelude != "",
		MaxMemory:         cfg.MaxMemory,
	}, nil
}

// DecodeEngineConfig decodes raw into an EngineConfig and converts it to
// isola.EngineConfig.
func DecodeEngineConfig(raw map[string]any) (isola.EngineConfig, error) {
	cfg := EngineConfig{CompileConcurrency: 4, CallTimeout: defaultCallTimeout}
	if err := decode(raw, &cfg); err != nil {
		return isola.EngineConfig{}, errors.Wrap(err, "config: decode EngineConfig")
	}
	return isola.EngineConfig{
		CompileConcurrency: cfg.CompileConcurrency,
		CallTimeout:        cfg.CallTimeout,
	}, nil
}

func decode(raw map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
