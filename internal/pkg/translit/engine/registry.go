package engine

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownBackend is returned for a backend name nothing registered. It
// is also an ErrMisconfigured.
var ErrUnknownBackend = fmt.Errorf("%w: unknown backend", ErrMisconfigured)

// Factory builds the engine for one model. cfg.ModelID is always a known
// model id and cfg.Backend is the registered name.
type Factory func(cfg EngineConfig) (Engine, error)

// BackendInfo describes a registered inference backend.
type BackendInfo struct {
	Name        string
	Description string
}

type backend struct {
	info    BackendInfo
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]backend)
)

// Register makes a backend available under name. Backends register
// themselves from init; registering a name twice panics.
func Register(name, description string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("engine: Register factory is nil")
	}
	if name == "" {
		panic("engine: Register called with an empty backend name")
	}
	if _, dup := registry[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	registry[name] = backend{info: BackendInfo{Name: name, Description: description}, factory: factory}
}

// New builds the engine for cfg.ModelID with the named backend. The model
// id is checked before the backend is involved.
func New(name string, cfg EngineConfig) (Engine, error) {
	b, err := lookup(name)
	if err != nil {
		return nil, err
	}
	variant, err := VariantFor(cfg.ModelID)
	if err != nil {
		return nil, err
	}
	cfg.Backend = name
	eng, err := b.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s backend, %s model %d: %w", name, variant, cfg.ModelID, err)
	}
	return eng, nil
}

// CheckBackend reports whether name is registered, listing the
// alternatives when it is not.
func CheckBackend(name string) error {
	_, err := lookup(name)
	return err
}

// Backends returns every registered backend sorted by name.
func Backends() []BackendInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]BackendInfo, 0, len(registry))
	for _, b := range registry {
		out = append(out, b.info)
	}
	slices.SortFunc(out, func(a, b BackendInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func lookup(name string) (backend, error) {
	registryMu.RLock()
	b, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		names := make([]string, 0)
		for _, info := range Backends() {
			names = append(names, info.Name)
		}
		return backend{}, fmt.Errorf("%w %q (registered: %s)", ErrUnknownBackend, name, strings.Join(names, ", "))
	}
	return b, nil
}
