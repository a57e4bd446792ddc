package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/internal/limiter"
	"github.com/isola-run/isola-go/sandbox/hostimport"
)

// guestInitExport is the nullary export a guest bundle may provide to run
// its own prelude/setup code once per instance, matching the teacher's
// functionInit ("wapc_init") convention generalized to this sandbox's own
// naming.
const guestInitExport = "isola_init"

// template compiles one guest bundle once and instantiates it into
// independent sandboxes on demand, the Go analogue of the source crate's
// Sandbox/SandboxPre pair and the teacher's wapc.Module.
//
// Each template owns its own wazero.Runtime, sized by cfg.MaxMemory via
// WithMemoryLimitPages: wazero fixes a Runtime's memory cap at
// construction, before any guest is known, so enforcing a per-guest cap
// means a per-template Runtime rather than the one process-wide Runtime
// the teacher shared across every wapc.Module. hostOnce instantiates the
// isola:host and wasi_snapshot_preview1 host modules exactly once per
// template, since wazero rejects instantiating a second module under an
// already-used name on the same Runtime.
type template struct {
	engine   *Engine
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	cfg      isola.ModuleConfig
	lim      *limiter.Limiter

	hostOnce sync.Once
	hostErr  error

	mu     sync.Mutex
	closed bool
}

var _ isola.Template = (*template)(nil)

// Compile loads wasmBytes (compiling or reusing a cached artifact) and
// returns a ready-to-instantiate Template.
func Compile(ctx context.Context, engine *Engine, wasmBytes []byte, cfg isola.ModuleConfig) (isola.Template, error) {
	rt := engine.newRuntime(ctx, cfg.MaxMemory)

	cm, err := engine.compileOn(ctx, rt, wasmBytes, cfg)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return &template{engine: engine, runtime: rt, compiled: cm, cfg: cfg, lim: limiter.New(cfg.MaxMemory)}, nil
}

// ensureHostModules instantiates isola:host and wasi_snapshot_preview1 on
// t.runtime the first time any instance is created from this template.
func (t *template) ensureHostModules(ctx context.Context) error {
	t.hostOnce.Do(func() {
		if _, err := hostimport.Instantiate(ctx, t.runtime); err != nil {
			t.hostErr = fmt.Errorf("sandbox: instantiate isola:host module: %w", err)
			return
		}
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, t.runtime); err != nil {
			t.hostErr = fmt.Errorf("sandbox: instantiate wasi_snapshot_preview1: %w", err)
			return
		}
	})
	return t.hostErr
}

// Instantiate builds one independent sandbox from the compiled guest,
// wiring in the embedder's Host, a fresh resource table sized from
// internal/limiter, and the isola:host module exports.
func (t *template) Instantiate(ctx context.Context, host isola.Host, opts ...isola.InstanceOption) (isola.Instance, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("sandbox: template is closed")
	}
	t.mu.Unlock()

	options := newInstanceOptionsFrom(t.engine, opts)

	if err := t.ensureHostModules(ctx); err != nil {
		return nil, err
	}

	inst := newInstance(t, host, options)

	modConfig := wazero.NewModuleConfig().
		WithStartFunctions(). // no start function runs; the guest's isola_init export is invoked explicitly below
		WithStdout(inst.stdoutWriter).
		WithStderr(inst.stderrWriter).
		WithName(inst.id)

	if len(t.cfg.DirectoryMappings) > 0 {
		fsConfig := wazero.NewFSConfig()
		for _, mapping := range t.cfg.DirectoryMappings {
			fsConfig = fsConfig.WithReadOnlyDirMount(mapping.Host, mapping.Guest)
		}
		modConfig = modConfig.WithFSConfig(fsConfig)
	}
	for k, v := range t.cfg.Env {
		modConfig = modConfig.WithEnv(k, v)
	}

	ctx = hostimport.WithState(ctx, inst.hostState)

	mod, err := t.runtime.InstantiateModule(ctx, t.compiled, modConfig)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate guest module: %w", err)
	}
	inst.module = mod

	if initFn := mod.ExportedFunction(guestInitExport); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("sandbox: guest init failed: %w", err)
		}
	}
	if t.cfg.HasPrelude {
		if err := inst.evalPrelude(ctx, t.cfg.Prelude); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}

	return inst, nil
}

func (t *template) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.runtime.Close(ctx)
}

type instanceOptionsResolved struct {
	callTimeout time.Duration
}

func newInstanceOptionsFrom(engine *Engine, opts []isola.InstanceOption) instanceOptionsResolved {
	// isola.InstanceOption closes over an unexported options struct in the
	// root package, so resolution goes through the exported
	// isola.ResolveCallTimeout rather than reaching into that struct.
	return instanceOptionsResolved{
		callTimeout: isola.ResolveCallTimeout(engine.CallTimeout(), opts...),
	}
}

// guestBundleFromFile loads a compiled guest .wasm file from disk.
func guestBundleFromFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
