// Package state implements the persistent .tasktree-state store: a single
// JSON file in project_root mapping cache key to TaskState, loaded lazily,
// pruned by task hash, and saved as a whole-file replacement. Grounded on
// the original implementation's StateManager and the teacher's cache.Manager
// file-handling idiom (os.MkdirAll + os.WriteFile, wrapped errors).
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
)

const fileName = ".tasktree-state"

// Store manages the .tasktree-state file under a single project root.
type Store struct {
	mu          sync.Mutex
	projectRoot string
	path        string
	entries     map[string]*model.TaskState
	loaded      bool
}

// New creates a Store rooted at projectRoot. Load is not called until the
// first operation needs it, matching the lazy-load contract the original
// StateManager uses.
func New(projectRoot string) *Store {
	return &Store{
		projectRoot: projectRoot,
		path:        filepath.Join(projectRoot, fileName),
		entries:     make(map[string]*model.TaskState),
	}
}

// Load reads the state file. A missing or corrupt file yields an empty
// state rather than an error — spec.md §4.5: "corrupt or missing file
// yields empty state". Corruption is still reported back to the caller as a
// StateError so it can be logged, per the §7 StateError contract of
// "recovered locally: proceed with empty state".
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = make(map[string]*model.TaskState)
			return nil
		}
		s.entries = make(map[string]*model.TaskState)
		return &tterrors.StateError{Path: s.path, Message: err.Error()}
	}

	var raw map[string]*model.TaskState
	if err := json.Unmarshal(data, &raw); err != nil {
		s.entries = make(map[string]*model.TaskState)
		return &tterrors.StateError{Path: s.path, Message: "corrupt state file: " + err.Error()}
	}

	s.entries = raw
	return nil
}

func (s *Store) ensureLoaded() {
	if !s.loaded {
		_ = s.loadLocked()
	}
}

// Get returns the cached TaskState for cacheKey, or nil if none.
func (s *Store) Get(cacheKey string) *model.TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return s.entries[cacheKey]
}

// Set upserts the TaskState for cacheKey.
func (s *Store) Set(cacheKey string, st *model.TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.entries[cacheKey] = st
}

// Prune removes entries whose task-hash prefix (the part of the cache key
// before "__", or the whole key if there's no args hash) is not present in
// validTaskHashes. Idempotent: pruning twice with the same set is a no-op
// the second time.
func (s *Store) Prune(validTaskHashes map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	for key := range s.entries {
		taskHash := key
		if idx := strings.Index(key, "__"); idx >= 0 {
			taskHash = key[:idx]
		}
		if _, ok := validTaskHashes[taskHash]; !ok {
			delete(s.entries, key)
		}
	}
}

// Save reloads the file first (merging any entries a concurrently-running
// nested child wrote, per spec.md §4.5/§5's re-entry protocol) then writes
// the whole merged map back as a single atomic-enough replace.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk := make(map[string]*model.TaskState)
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &onDisk)
	}
	for k, v := range s.entries {
		onDisk[k] = v
	}
	s.entries = onDisk

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return &tterrors.StateError{Path: s.path, Message: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &tterrors.StateError{Path: s.path, Message: err.Error()}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &tterrors.StateError{Path: s.path, Message: err.Error()}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &tterrors.StateError{Path: s.path, Message: err.Error()}
	}
	return nil
}

// Clear empties the in-memory state without touching the file until the
// next Save.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*model.TaskState)
	s.loaded = true
}

// Path returns the absolute path of the backing state file.
func (s *Store) Path() string {
	return s.path
}
