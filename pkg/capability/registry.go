// Package capability owns the allowlist of modules sandboxed scripts may
// reference. Capabilities are process-wide shared state: each loader runs at
// most once per process, its result is frozen, and the frozen value is reused
// by every session. Dangerous primitives (dynamic evaluation, process
// control, raw sockets, interactive input) are permanently blocked and can
// never be registered.
package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
)

// Loader materializes a capability's value on first reference
type Loader func() (starlark.Value, error)

// names that must never become loadable, regardless of registration requests
var hardBlocked = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "socket": true,
	"eval": true, "exec": true, "compile": true, "importlib": true,
	"builtins": true, "input": true, "ctypes": true, "signal": true,
	"multiprocessing": true, "threading": true, "pickle": true,
}

type entry struct {
	name   string
	eager  bool
	loader Loader

	once  sync.Once
	value starlark.Value
	err   error
}

// load runs the loader exactly once per process and freezes the result.
// The per-entry sync.Once serializes concurrent first use of the same
// capability without blocking unrelated loads.
func (e *entry) load(onLoad func(string)) (starlark.Value, error) {
	e.once.Do(func() {
		value, err := e.loader()
		if err != nil {
			e.err = fmt.Errorf("loading capability %q: %w", e.name, err)
			return
		}
		value.Freeze()
		e.value = value
		if onLoad != nil {
			onLoad(e.name)
		}
		log.Debug().Str("capability", e.name).Msg("Capability loaded")
	})
	return e.value, e.err
}

// Registry holds the two-tier capability allowlist
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	aliases map[string]string
	onLoad  func(name string)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
	}
}

// OnLoad sets a hook invoked once per capability when it materializes
func (r *Registry) OnLoad(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoad = fn
}

// Register adds a capability. Eager capabilities are materialized by
// LoadEager at startup; lazy ones on first script reference.
func (r *Registry) Register(name string, eager bool, loader Loader, aliases ...string) error {
	if hardBlocked[name] {
		return fmt.Errorf("%w: %s", ErrHardBlocked, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.entries[name] = &entry{name: name, eager: eager, loader: loader}

	for _, alias := range aliases {
		if hardBlocked[alias] {
			return fmt.Errorf("%w: %s", ErrHardBlocked, alias)
		}
		r.aliases[alias] = name
	}
	return nil
}

// Canonical resolves a name or alias to the canonical capability name
func (r *Registry) Canonical(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.entries[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

// Known reports whether a name or alias is in the allowlist
func (r *Registry) Known(name string) bool {
	_, ok := r.Canonical(name)
	return ok
}

// Resolve returns the capability's value, materializing it on first use.
// Unknown and hard-blocked names yield ErrBlockedCapability.
func (r *Registry) Resolve(name string) (starlark.Value, error) {
	canonical, ok := r.Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockedCapability, name)
	}

	r.mu.RLock()
	e := r.entries[canonical]
	onLoad := r.onLoad
	r.mu.RUnlock()

	return e.load(onLoad)
}

// LoadEager materializes every eager-tier capability
func (r *Registry) LoadEager() error {
	r.mu.RLock()
	eager := make([]*entry, 0, len(r.entries))
	onLoad := r.onLoad
	for _, e := range r.entries {
		if e.eager {
			eager = append(eager, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range eager {
		if _, err := e.load(onLoad); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the sorted allowlist, canonical names only
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequireBuiltin returns the _require_ builtin the preprocessor binds
// rewritten imports to. It resolves lazily at execution time.
func (r *Registry) RequireBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("_require_", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		return r.Resolve(name)
	})
}
