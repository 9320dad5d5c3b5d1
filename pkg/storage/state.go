package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateFileName = "state.json"
	stateVersion  = 1
)

// ConnectorState tracks extraction progress for one connector.
type ConnectorState struct {
	LastProcessed          *time.Time `json:"last_processed"`
	Cursor                 string     `json:"cursor,omitempty"`
	ConversationsProcessed int        `json:"conversations_processed"`
	LastRun                *time.Time `json:"last_run"`
}

// DreamingState tracks dreaming cycle history across daemon restarts.
type DreamingState struct {
	LastRun                   *time.Time `json:"last_run"`
	TotalRuns                 int        `json:"total_runs"`
	LastRunID                 string     `json:"last_run_id,omitempty"`
	IssuesFoundTotal          int        `json:"issues_found_total"`
	ResolutionsGeneratedTotal int        `json:"resolutions_generated_total"`
}

// ProcessingState is the whole state.json document.
type ProcessingState struct {
	Connectors map[string]*ConnectorState `json:"connectors"`
	Dreaming   DreamingState              `json:"dreaming"`
	Version    int                        `json:"version"`
}

func newProcessingState() *ProcessingState {
	return &ProcessingState{
		Connectors: make(map[string]*ConnectorState),
		Version:    stateVersion,
	}
}

// StateStore loads and saves the daemon's processing state at
// <runtimeDir>/state.json. A missing or corrupt file yields fresh state
// rather than an error, so a damaged file only costs history, never a start.
type StateStore struct {
	mu     sync.Mutex
	path   string
	state  *ProcessingState
	loaded bool
}

// NewStateStore returns a store for the given runtime directory. State is
// read lazily on first access.
func NewStateStore(runtimeDir string) *StateStore {
	return &StateStore{path: filepath.Join(runtimeDir, stateFileName)}
}

// load reads state.json into memory. Callers must hold the lock.
func (s *StateStore) load() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.state = newProcessingState()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not read state file, starting fresh", "path", s.path, "error", err)
		}
		return
	}
	var loaded ProcessingState
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("Corrupt state file, starting fresh", "path", s.path, "error", err)
		return
	}
	if loaded.Connectors == nil {
		loaded.Connectors = make(map[string]*ConnectorState)
	}
	loaded.Version = stateVersion
	s.state = &loaded
}

// save writes the current state back to disk. Callers must hold the lock.
func (s *StateStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the full state for read-only use.
func (s *StateStore) Snapshot() ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	out := ProcessingState{
		Dreaming:   s.state.Dreaming,
		Version:    s.state.Version,
		Connectors: make(map[string]*ConnectorState, len(s.state.Connectors)),
	}
	for id, cs := range s.state.Connectors {
		copied := *cs
		out.Connectors[id] = &copied
	}
	return out
}

// ConnectorState returns the tracked state for one connector. Unknown ids
// yield a zero state.
func (s *StateStore) ConnectorState(id string) ConnectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	if cs, ok := s.state.Connectors[id]; ok {
		return *cs
	}
	return ConnectorState{}
}

// Dreaming returns the dreaming cycle history.
func (s *StateStore) Dreaming() DreamingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	return s.state.Dreaming
}

// UpdateConnector records the outcome of one extraction pass and saves. The
// processed count accumulates across runs; a nil lastProcessed or cursor
// leaves the stored value unchanged.
func (s *StateStore) UpdateConnector(id string, lastProcessed *time.Time, cursor *string, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	cs, ok := s.state.Connectors[id]
	if !ok {
		cs = &ConnectorState{}
		s.state.Connectors[id] = cs
	}
	if lastProcessed != nil {
		ts := lastProcessed.UTC()
		cs.LastProcessed = &ts
	}
	if cursor != nil {
		cs.Cursor = *cursor
	}
	cs.ConversationsProcessed += processed
	now := time.Now().UTC()
	cs.LastRun = &now
	return s.save()
}

// UpdateDreaming records the outcome of one dreaming cycle and saves.
func (s *StateStore) UpdateDreaming(runID string, issuesFound, resolutionsGenerated int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	now := time.Now().UTC()
	s.state.Dreaming.LastRun = &now
	s.state.Dreaming.TotalRuns++
	s.state.Dreaming.LastRunID = runID
	s.state.Dreaming.IssuesFoundTotal += issuesFound
	s.state.Dreaming.ResolutionsGeneratedTotal += resolutionsGenerated
	return s.save()
}
