package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/internal/enginecache"
	"github.com/isola-run/isola-go/internal/workerpool"
)

// defaultCallTimeout applies when an EngineConfig omits CallTimeout.
const defaultCallTimeout = 30 * time.Second

// engineFingerprintIdentity stands in for wasmtime's
// Engine::precompile_compatibility_hash, which wazero has no equivalent
// API for: the wazero module version plus GOARCH/GOOS/compiler-mode
// together identify everything that can make a previously cached wasm
// artifact unsafe to trust without re-validation.
var engineFingerprintIdentity = fmt.Sprintf("wazero/isola-cache-v1/%s/%s", runtime.GOOS, runtime.GOARCH)

// wasmPageSize is the fixed wasm linear-memory page size (64KiB), used to
// translate ModuleConfig.MaxMemory into the page count WithMemoryLimitPages
// expects.
const wasmPageSize = 64 << 10

// maxWasmPages is the largest page count a wasm32 linear memory can reach
// (4GiB address space).
const maxWasmPages = 65536

// memoryLimitPages converts a byte cap into the page count wazero's
// RuntimeConfig.WithMemoryLimitPages enforces, rounding up so a cap that
// isn't page-aligned is never under-enforced. Zero means "no cap beyond
// wazero's own default."
func memoryLimitPages(maxMemoryBytes uint64) uint32 {
	if maxMemoryBytes == 0 {
		return 0
	}
	pages := (maxMemoryBytes + wasmPageSize - 1) / wasmPageSize
	if pages > maxWasmPages {
		pages = maxWasmPages
	}
	return uint32(pages)
}

// Engine is the process-wide home for every Template's supporting
// subsystems: the on-disk compile-artifact cache and a bounded compile
// worker pool. Unlike the teacher's single shared wazero.Runtime, each
// Template gets its own Runtime (see newRuntime) so its
// ModuleConfig.MaxMemory can be enforced via WithMemoryLimitPages — a cap
// wazero fixes at Runtime-construction time, before any guest module is
// known.
//
// Call cancellation is enforced solely through context.Context deadlines
// plus wazero's WithCloseOnContextDone (set on every Template's Runtime):
// wazero itself inserts the cooperative check at function calls and loop
// back-edges, which is exactly what an independent epoch-ticker watchdog
// would otherwise exist to provide. An earlier revision carried such a
// ticker (internal/epoch) that nothing ever read back; it was deleted
// rather than wired into a second, redundant enforcement path.
type Engine struct {
	cache       *enginecache.Store
	fingerprint enginecache.EngineFingerprint
	compilePool *workerpool.Pool
	callTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewEngine constructs the shared compile cache and its supporting
// subsystems. cacheDir may be empty, disabling on-disk compile caching.
func NewEngine(ctx context.Context, cfg isola.EngineConfig, cacheDir string) (*Engine, error) {
	concurrency := cfg.CompileConcurrency
	if concurrency <= 0 {
		concurrency = int64(runtime.NumCPU())
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	e := &Engine{
		fingerprint: enginecache.FingerprintFromVersion(engineFingerprintIdentity),
		compilePool: workerpool.New(concurrency),
		callTimeout: callTimeout,
	}

	if cacheDir != "" {
		store, err := enginecache.NewStore(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("sandbox: init compile cache: %w", err)
		}
		e.cache = store
	}

	return e, nil
}

// newRuntime builds one Template's private wazero.Runtime, sized by
// maxMemoryBytes. Each Template owns exactly one Runtime for its whole
// lifetime: wazero ties a CompiledModule and its host-module instances to
// the Runtime that created them, so a memory cap fixed per guest (rather
// than process-wide) requires one Runtime per Template.
func (e *Engine) newRuntime(ctx context.Context, maxMemoryBytes uint64) wazero.Runtime {
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if pages := memoryLimitPages(maxMemoryBytes); pages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(pages)
	}
	return wazero.NewRuntimeWithConfig(ctx, rtConfig)
}

// CallTimeout returns the EngineConfig-derived default per-call timeout,
// used when a Template.Instantiate caller supplies no isola.WithCallTimeout
// override.
func (e *Engine) CallTimeout() time.Duration {
	return e.callTimeout
}

// Close marks the engine closed; each Template's own Runtime is released
// by Template.Close, not here, since the Engine itself owns no Runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return nil
}

// compileCacheKey computes this guest's content-addressed cache key under
// cfg, per spec.md §6's byte recipe (internal/enginecache.Key).
func (e *Engine) compileCacheKey(cfg isola.ModuleConfig, wasmBytes []byte) string {
	mappings := make([]enginecache.DirectoryMapping, 0, len(cfg.DirectoryMappings))
	for _, m := range cfg.DirectoryMappings {
		mappings = append(mappings, enginecache.DirectoryMapping{
			Guest: m.Guest, Host: m.Host, DirPerms: m.DirPerms, FilePerms: m.FilePerms,
		})
	}
	env := make([]enginecache.EnvVar, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, enginecache.EnvVar{Key: k, Value: v})
	}
	// Map iteration order is random; sort so equal configs hash equally.
	sort.Slice(env, func(a, b int) bool { return env[a].Key < env[b].Key })
	return enginecache.Key(e.fingerprint, enginecache.Config{
		DirectoryMappings: mappings,
		Env:               env,
		Prelude:           cfg.Prelude,
		HasPrelude:        cfg.HasPrelude,
		MaxMemory:         cfg.MaxMemory,
	}, wasmBytes)
}

// compileOn compiles wasmBytes under cfg against rt (one Template's private
// Runtime) through the bounded worker pool. The on-disk cache (when
// configured) only ever stores the source wasm bytes, never the
// resulting wazero.CompiledModule — see internal/enginecache's package doc
// for why wazero cannot persist the compiled artifact itself, and the
// Engine doc comment above for why a CompiledModule can no longer be
// deduplicated process-wide now that each Template compiles against its
// own memory-limited Runtime.
func (e *Engine) compileOn(ctx context.Context, rt wazero.Runtime, wasmBytes []byte, cfg isola.ModuleConfig) (wazero.CompiledModule, error) {
	key := e.compileCacheKey(cfg, wasmBytes)

	sourceBytes := wasmBytes
	if e.cache != nil {
		if cached, ok := e.cache.Load(key); ok {
			sourceBytes = cached
		}
	}

	var cm wazero.CompiledModule
	err := e.compilePool.Do(ctx, func(ctx context.Context) error {
		compiled, err := rt.CompileModule(ctx, sourceBytes)
		if err != nil {
			return fmt.Errorf("sandbox: compile guest module: %w", err)
		}
		cm = compiled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Store(key, wasmBytes); err != nil {
			return nil, fmt.Errorf("sandbox: persist compile cache: %w", err)
		}
	}

	return cm, nil
}
