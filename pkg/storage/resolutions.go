// Package storage persists dreaming outputs: remediation documents as JSON
// files on disk, daemon processing state, and a Redis-backed vector index of
// past resolution actions for semantic recall.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	resolutionsDirName = "resolutions"
	dryRunsDirName     = "dry-runs"

	// recentScanLimit caps how many documents target lookups scan.
	recentScanLimit = 100
)

// ErrNotFound is returned when no remediation matches a requested id.
var ErrNotFound = errors.New("remediation not found")

// ResolutionStore reads and writes remediation documents, one JSON file per
// remediation, under <runtimeDir>/resolutions. Dry-run documents go to the
// sibling dry-runs directory and never show up in listings.
type ResolutionStore struct {
	dir       string
	dryRunDir string
}

// NewResolutionStore returns a store rooted at the given runtime directory.
func NewResolutionStore(runtimeDir string) *ResolutionStore {
	return &ResolutionStore{
		dir:       filepath.Join(runtimeDir, resolutionsDirName),
		dryRunDir: filepath.Join(runtimeDir, dryRunsDirName),
	}
}

// Dir returns the directory holding persisted remediations.
func (s *ResolutionStore) Dir() string { return s.dir }

// Filename returns the date-prefixed name a remediation is stored under.
func Filename(r *models.Remediation) string {
	return fmt.Sprintf("%s-%s.json", r.CreatedAt.UTC().Format("2006-01-02"), models.ShortID(r.ID))
}

// Save writes the remediation to its date-named file and returns the path.
func (s *ResolutionStore) Save(r *models.Remediation) (string, error) {
	path := filepath.Join(s.dir, Filename(r))
	if err := s.write(s.dir, path, r); err != nil {
		return "", err
	}
	slog.Info("Saved remediation", "id", models.ShortID(r.ID), "path", path)
	return path, nil
}

// SaveDryRun writes the remediation to the dry-runs directory under a
// timestamped name so repeated dry runs never overwrite each other.
func (s *ResolutionStore) SaveDryRun(r *models.Remediation) (string, error) {
	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("2006-01-02_150405"), models.ShortID(r.ID))
	path := filepath.Join(s.dryRunDir, name)
	if err := s.write(s.dryRunDir, path, r); err != nil {
		return "", err
	}
	slog.Info("Saved dry-run remediation", "id", models.ShortID(r.ID), "path", path)
	return path, nil
}

// write lands the document via a temp file and rename so a crash mid-write
// never leaves a truncated remediation behind.
func (s *ResolutionStore) write(dir, path string, r *models.Remediation) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding remediation: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".remediation-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads one remediation document from path.
func (s *ResolutionStore) Load(path string) (*models.Remediation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading remediation: %w", err)
	}
	var r models.Remediation
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding remediation %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// LoadByID finds a remediation by full or short id. An exact id match wins;
// otherwise the id is treated as a prefix, so callers can pass the
// 8-character short form shown in listings.
func (s *ResolutionStore) LoadByID(id string) (*models.Remediation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*-"+models.ShortID(id)+"*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	loaded := make([]*models.Remediation, 0, len(matches))
	for _, path := range matches {
		r, err := s.Load(path)
		if err != nil {
			slog.Warn("Skipping unreadable remediation file", "path", path, "error", err)
			continue
		}
		loaded = append(loaded, r)
	}
	for _, r := range loaded {
		if r.ID == id {
			return r, nil
		}
	}
	for _, r := range loaded {
		if strings.HasPrefix(r.ID, id) {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// ListRecent returns up to limit remediations, newest first. A limit of zero
// or less returns everything.
func (s *ResolutionStore) ListRecent(limit int) ([]*models.Remediation, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	// Date-prefixed filenames sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*models.Remediation, 0, len(matches))
	for _, path := range matches {
		r, err := s.Load(path)
		if err != nil {
			slog.Warn("Skipping unreadable remediation file", "path", path, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ListByDateRange returns remediations created within [start, end], newest
// first. Nil bounds are open.
func (s *ResolutionStore) ListByDateRange(start, end *time.Time) ([]*models.Remediation, error) {
	all, err := s.ListRecent(0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Remediation, 0, len(all))
	for _, r := range all {
		if start != nil && r.CreatedAt.Before(*start) {
			continue
		}
		if end != nil && r.CreatedAt.After(*end) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ActionsForTarget returns actions from recent remediations that touch the
// given target path, newest first. Only the most recent documents are
// scanned.
func (s *ResolutionStore) ActionsForTarget(target string) ([]models.RemediationAction, error) {
	recent, err := s.ListRecent(recentScanLimit)
	if err != nil {
		return nil, err
	}
	var out []models.RemediationAction
	for _, r := range recent {
		for _, res := range r.Resolutions {
			for _, action := range res.Actions {
				if action.Target == target {
					out = append(out, action)
				}
			}
		}
	}
	return out, nil
}
