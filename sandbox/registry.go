package sandbox

import (
	"context"
	"fmt"
	"sync"

	isola "github.com/isola-run/isola-go"
)

// Bundle is one guest's compiled wasm bytes plus the ModuleConfig it was
// built against, keyed by the Language it implements.
type Bundle struct {
	Language isola.Language
	Wasm     []byte
	Config   isola.ModuleConfig
}

// Registry holds one compiled Template per guest Language, built once at
// process startup from a fixed set of Bundles (e.g. the Python and
// JavaScript interpreter guests this sandbox ships). Grounded on the
// teacher's single-Module-per-process shape (wapc.Engine.New), generalized
// from "one guest" to "one guest per supported Language".
type Registry struct {
	mu        sync.RWMutex
	templates map[isola.Language]isola.Template
}

// NewRegistry compiles every bundle against engine and returns a Registry
// ready to serve Get. A bundle that fails to compile aborts the whole
// build: a registry with a missing or broken language guest is not safe
// to serve traffic from.
func NewRegistry(ctx context.Context, engine *Engine, bundles []Bundle) (*Registry, error) {
	reg := &Registry{templates: make(map[isola.Language]isola.Template, len(bundles))}
	for _, b := range bundles {
		tmpl, err := Compile(ctx, engine, b.Wasm, b.Config)
		if err != nil {
			return nil, fmt.Errorf("sandbox: compile %s guest bundle: %w", b.Language, err)
		}
		reg.templates[b.Language] = tmpl
	}
	return reg, nil
}

// Get returns the compiled Template for lang, or false if no bundle was
// registered for it.
func (r *Registry) Get(lang isola.Language) (isola.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[lang]
	return t, ok
}

// Close closes every Template the Registry holds, collecting (but not
// stopping on) the first error encountered so every guest gets a chance to
// release its resources.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for lang, tmpl := range r.templates {
		if err := tmpl.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sandbox: close %s guest template: %w", lang, err)
		}
	}
	return firstErr
}
