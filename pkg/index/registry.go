package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// Factory opens an index for a configuration.
type Factory func(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory to the registry.
// Called by backend implementations in their init() functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a backend factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Open creates an index for cfg.Backend.
// The logger is passed to the backend (nil uses discard logger).
func Open(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("index backend not specified")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	factory, ok := Get(cfg.Backend)
	if !ok {
		return nil, &UnknownBackendError{
			Backend:   cfg.Backend,
			Available: ListBackends(),
		}
	}
	return factory(ctx, cfg, logger.With(slog.String("backend", cfg.Backend)))
}

// ListBackends returns all registered backend names (sorted).
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownBackendError is returned when an unknown backend is requested.
type UnknownBackendError struct {
	Backend   string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown index backend %q\nAvailable backends: %v\nHint: Check index.backend in provcat.yaml", e.Backend, e.Available)
}
