package connectors

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownConnector indicates a connector id with no registered factory.
var ErrUnknownConnector = errors.New("unknown connector")

// Factory builds a connector rooted at the given runtime directory.
type Factory func(runtimeDir string) Connector

// Registry maps connector ids to factories and instantiates configured
// connectors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry. Built-in connectors are
// registered during orchestrator wiring.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a connector id.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Available returns the registered connector ids, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether a factory is registered for the id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Create instantiates the connector and, when present, applies the
// definition at <runtimeDir>/connectors/<id>.md.
func (r *Registry) Create(id, runtimeDir string) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)",
			ErrUnknownConnector, id, strings.Join(r.Available(), ", "))
	}

	conn := factory(runtimeDir)

	definitionPath := filepath.Join(runtimeDir, "connectors", id+".md")
	if _, err := os.Stat(definitionPath); err == nil {
		settings, err := LoadDefinition(definitionPath)
		if err != nil {
			return nil, fmt.Errorf("connector %s: %w", id, err)
		}
		conn.Configure(settings)
	}
	return conn, nil
}

// CreateAll instantiates every requested connector, skipping unknown ids
// and connectors whose settings disable them. A nil ids slice selects all
// registered connectors.
func (r *Registry) CreateAll(runtimeDir string, ids []string) []Connector {
	if ids == nil {
		ids = r.Available()
	}

	var out []Connector
	for _, id := range ids {
		conn, err := r.Create(id, runtimeDir)
		if err != nil {
			continue
		}
		if !conn.Settings().Enabled {
			continue
		}
		out = append(out, conn)
	}
	return out
}
