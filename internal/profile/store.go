// Package profile persists per-model generation parameter profiles.
package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one stored profile.
type Record struct {
	UpdatedAt string         `json:"updated_at"`
	Values    map[string]any `json:"values"`
}

type document struct {
	Version int               `json:"version"`
	Models  map[string]Record `json:"models"`
}

// Store is a mutex-guarded JSON-file-backed profile store. Writes are
// rare and operator-driven, so one process-wide lock is enough. The
// write path is atomic: full document to a temp file, then rename, so
// a crash mid-write cannot corrupt the canonical path.
type Store struct {
	path   string
	mu     sync.Mutex
	loaded bool
	doc    document
	now    func() time.Time
}

// NewStore returns a store backed by the given file path. The file is
// read lazily on first access.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		doc:  document{Version: 1, Models: map[string]Record{}},
		now:  time.Now,
	}
}

// ensureLoaded reads the backing file once. An unreadable or malformed
// file degrades to an empty store rather than failing every request.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	os.MkdirAll(filepath.Dir(s.path), 0o755)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return
	}
	if doc.Models != nil {
		s.doc = document{Version: 1, Models: doc.Models}
	}
}

func (s *Store) persist() error {
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns a copy of the stored values for a model, empty when no
// profile exists.
func (s *Store) Get(modelID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	rec, ok := s.doc.Models[modelID]
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		out[k] = v
	}
	return out
}

// Set replaces a model's profile. Nil values are dropped; an empty
// result deletes the record entirely.
func (s *Store) Set(modelID string, values map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(values))
	for k, v := range values {
		if v != nil {
			clean[k] = v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.commit(modelID, clean)
	if err := s.persist(); err != nil {
		return nil, err
	}
	return clean, nil
}

// Patch merges updates into a model's profile. A nil value deletes
// that key; an empty result deletes the record.
func (s *Store) Patch(modelID string, updates map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	merged := map[string]any{}
	if rec, ok := s.doc.Models[modelID]; ok {
		for k, v := range rec.Values {
			merged[k] = v
		}
	}
	for k, v := range updates {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	s.commit(modelID, merged)
	if err := s.persist(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) commit(modelID string, values map[string]any) {
	if len(values) == 0 {
		delete(s.doc.Models, modelID)
		return
	}
	s.doc.Models[modelID] = Record{
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
		Values:    values,
	}
}
