// Package enginecache computes the content-addressed cache key for a
// compiled guest module and persists/retrieves the cached artifact on disk.
//
// Grounded on
// original_source/crates/isola/src/internal/module/{cache.rs,compile.rs}.
// wazero's api.CompiledModule has no public re-serialize/deserialize pair
// the way wasmtime's Component does (see Component::serialize /
// Component::deserialize_file), so this package narrows the cached artifact
// to the source wasm bytes under the same key framing. A cache hit does not
// skip compilation: the loaded bytes are compiled by wazero again, and no
// wazero.CompiledModule is kept or serialized across Templates.
package enginecache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// DirectoryMapping mirrors one guest-visible preopen directory mapping,
// contributing to the cache key exactly like the source crate's
// DirectoryMapping (guest path, host path, and the permission bits granted).
type DirectoryMapping struct {
	Guest     string
	Host      string
	DirPerms  uint32
	FilePerms uint32
}

// EnvVar is one guest environment variable assignment.
type EnvVar struct {
	Key   string
	Value string
}

// Config is the subset of sandbox.ModuleConfig that participates in the
// compile-cache key: anything that changes the compiled artifact's
// semantics must be hashed in.
type Config struct {
	DirectoryMappings []DirectoryMapping
	Env               []EnvVar
	Prelude           string
	HasPrelude        bool
	MaxMemory         uint64
}

// EngineFingerprint identifies the compiler/runtime version and
// configuration that produced a cached artifact, so upgrading wazero (or
// changing runtime configuration that affects codegen) invalidates old
// cache entries instead of risking a stale-artifact load. Callers derive
// this once per process, typically from a version string plus the
// runtime-config knobs that affect compiled output.
type EngineFingerprint uint64

// FingerprintFromVersion derives an EngineFingerprint from a free-form
// engine/runtime identity string (e.g. the wazero module version plus the
// set of enabled wasm features).
func FingerprintFromVersion(identity string) EngineFingerprint {
	sum := sha256.Sum256([]byte(identity))
	return EngineFingerprint(binary.LittleEndian.Uint64(sum[:8]))
}

// Key computes the cache key for wasmBytes under engine fingerprint and
// cfg, formatted as lowercase hex exactly like the source crate's
// cache_key so the on-disk file naming convention carries over.
func Key(fp EngineFingerprint, cfg Config, wasmBytes []byte) string {
	wasmDigest := sha256.Sum256(wasmBytes)

	h := sha256.New()
	h.Write([]byte("isola-cache-v1\x00"))
	h.Write(wasmDigest[:])

	var fpBuf [8]byte
	binary.LittleEndian.PutUint64(fpBuf[:], uint64(fp))
	h.Write(fpBuf[:])

	writeUint64(h, uint64(len(cfg.DirectoryMappings)))
	for _, m := range cfg.DirectoryMappings {
		h.Write([]byte(m.Guest))
		h.Write([]byte{0})
		h.Write([]byte(m.Host))
		h.Write([]byte{0})
		var permBuf [8]byte
		binary.LittleEndian.PutUint32(permBuf[0:4], m.DirPerms)
		binary.LittleEndian.PutUint32(permBuf[4:8], m.FilePerms)
		h.Write(permBuf[:])
	}

	writeUint64(h, uint64(len(cfg.Env)))
	for _, e := range cfg.Env {
		h.Write([]byte(e.Key))
		h.Write([]byte{0})
		h.Write([]byte(e.Value))
		h.Write([]byte{0})
	}

	if cfg.HasPrelude {
		h.Write([]byte{1})
		h.Write([]byte(cfg.Prelude))
	} else {
		h.Write([]byte{0})
	}

	writeUint64(h, cfg.MaxMemory)
	// Optimization level is fixed by the runtime config we build engines
	// with, so it contributes a constant byte rather than a real knob.
	h.Write([]byte{1})

	digest := h.Sum(nil)
	return hex.EncodeToString(digest)
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// Store is a directory of cached wasm artifacts named by cache key.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("enginecache: create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".cwasm")
}

// Load returns the cached bytes for key, or (nil, false) on a cache miss.
func (s *Store) Load(key string) ([]byte, bool) {
	bytes, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return bytes, true
}

var writeSequence atomic.Uint64

// Store writes bytes under key via a temp-file-then-rename so concurrent
// compiles of the same module race harmlessly: the loser's rename either
// overwrites the same bytes or, on platforms where rename cannot replace
// an existing file, is treated as success since the destination already
// holds an equivalent artifact.
func (s *Store) Store(key string, bytes []byte) error {
	dst := s.path(key)
	seq := writeSequence.Add(1)
	tmp := fmt.Sprintf("%s.tmp-%d-%d", dst, os.Getpid(), seq)

	if err := os.WriteFile(tmp, bytes, 0o644); err != nil {
		return fmt.Errorf("enginecache: write temp artifact: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("enginecache: rename temp artifact: %w", err)
	}
	return nil
}
