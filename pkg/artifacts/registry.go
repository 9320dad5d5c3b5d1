package artifacts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownArtifact is returned when no handler or definition exists for a
// requested artifact id.
var ErrUnknownArtifact = errors.New("unknown artifact type")

// Factory builds a handler for an artifact id.
type Factory func(id string) Handler

// Registry maps artifact ids to handler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in handlers registered,
// including the skill and preferences aliases.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	skills := func(string) Handler { return NewSkillsHandler() }
	prefs := func(id string) Handler { return NewPreferencesHandler(id) }
	r.Register(SkillsID, skills)
	r.Register("skill", skills)
	r.Register(PreferencesID, prefs)
	r.Register("preferences", prefs)
	return r
}

// Register adds or replaces a handler factory.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Available returns the registered artifact ids, sorted.
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

// Has reports whether a factory is registered for id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Create builds a handler and applies <runtimeDir>/artifacts/<id>.md when
// present. Ids without a registered factory fall back to the generic
// handler, but only when a definition file describes them.
func (r *Registry) Create(id, runtimeDir string) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	defPath := filepath.Join(runtimeDir, "artifacts", id+".md")
	def, defErr := LoadDefinition(defPath)

	if !ok {
		if defErr != nil {
			return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownArtifact, id, strings.Join(r.Available(), ", "))
		}
		factory = func(id string) Handler { return NewGenericHandler(id) }
	}

	h := factory(id)
	if defErr == nil {
		h.SetDefinition(def)
	} else if !errors.Is(defErr, os.ErrNotExist) {
		slog.Warn("Could not load artifact definition", "id", id, "error", defErr)
	}
	return h, nil
}

// CreateAll builds handlers for the given ids, skipping unknown or disabled
// ones.
func (r *Registry) CreateAll(runtimeDir string, ids []string) []Handler {
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		h, err := r.Create(id, runtimeDir)
		if err != nil {
			slog.Warn("Skipping artifact type", "id", id, "error", err)
			continue
		}
		if !h.Settings().Enabled {
			slog.Debug("Artifact type disabled", "id", id)
			continue
		}
		out = append(out, h)
	}
	return out
}

// ScanAvailable lists artifact ids that have definition files under
// runtimeDir, sorted.
func (r *Registry) ScanAvailable(runtimeDir string) []string {
	matches, err := filepath.Glob(filepath.Join(runtimeDir, "artifacts", "*.md"))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".md"))
	}
	sort.Strings(out)
	return out
}
