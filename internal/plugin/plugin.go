package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dm/es-cluster-runner/internal/settings"
)

// Plugin contributes node settings for an engine module or plugin. Configure
// must only fill keys that are absent, so user values keep precedence.
type Plugin interface {
	Name() string
	Configure(index int, b *settings.Builder)
}

// Factory creates a fresh Plugin instance.
type Factory func() Plugin

// NotFoundError is returned when a plugin name has no registered factory.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q is not registered", e.Name)
}

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a factory available under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists registered names in lexical order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates modules and plugins in order. Unknown module names are
// skipped; an unknown plugin name is an error.
func Resolve(modules, plugins []string, logger *zap.Logger) ([]Plugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]Plugin, 0, len(modules)+len(plugins))
	for _, name := range modules {
		f, ok := Lookup(name)
		if !ok {
			logger.Debug("module not found, skipping", zap.String("module", name))
			continue
		}
		out = append(out, f())
	}
	for _, name := range plugins {
		f, ok := Lookup(name)
		if !ok {
			return nil, &NotFoundError{Name: name}
		}
		out = append(out, f())
	}
	return out, nil
}

// Apply runs Configure of every plugin against b.
func Apply(plugins []Plugin, index int, b *settings.Builder) {
	for _, p := range plugins {
		p.Configure(index, b)
	}
}
