package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tasktreeio/tasktree/internal/model"
)

func TestSaveLoad_RoundTrips(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	want := &model.TaskState{
		LastRun:    1700000000,
		InputState: map[string]any{"src/main.go": 1700000001.0, "_runner_hash_local": "abcd1234efgh5678"},
	}
	s.Set("cachekey1", want)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(root)
	got := loaded.Get("cachekey1")
	if got == nil {
		t.Fatal("expected entry to round-trip, got nil")
	}
	if got.LastRun != want.LastRun {
		t.Errorf("LastRun = %v, want %v", got.LastRun, want.LastRun)
	}
	if got.InputState["src/main.go"] != 1700000001.0 {
		t.Errorf("InputState mismatch: %v", got.InputState)
	}
}

func TestLoad_MissingFileYieldsEmptyState(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	if err := s.Load(); err != nil {
		t.Fatalf("expected no error for missing state file, got %v", err)
	}
	if s.Get("anything") != nil {
		t.Error("expected empty state for missing file")
	}
}

func TestLoad_CorruptFileYieldsEmptyStateAndError(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, fileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(root)
	err := s.Load()
	if err == nil {
		t.Fatal("expected a StateError for corrupt state file")
	}
	if s.Get("anything") != nil {
		t.Error("expected empty state after corruption recovery")
	}
}

func TestPrune_IsIdempotent(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.Set("abcd1234", &model.TaskState{LastRun: 1})
	s.Set("efgh5678__ijkl9012", &model.TaskState{LastRun: 2})
	s.Set("stale0000", &model.TaskState{LastRun: 3})

	valid := map[string]struct{}{"abcd1234": {}, "efgh5678": {}}

	s.Prune(valid)
	if s.Get("stale0000") != nil {
		t.Error("expected stale entry removed after first prune")
	}
	if s.Get("abcd1234") == nil || s.Get("efgh5678__ijkl9012") == nil {
		t.Error("expected valid entries retained after first prune")
	}

	before := len(s.entries)
	s.Prune(valid)
	if len(s.entries) != before {
		t.Errorf("expected prune to be idempotent, entry count changed from %d to %d", before, len(s.entries))
	}
}

func TestSave_MergesConcurrentChildWrites(t *testing.T) {
	root := t.TempDir()

	parent := New(root)
	parent.Set("parent-key", &model.TaskState{LastRun: 1})
	if err := parent.Save(); err != nil {
		t.Fatalf("parent Save: %v", err)
	}

	child := New(root)
	child.Set("child-key", &model.TaskState{LastRun: 2})
	if err := child.Save(); err != nil {
		t.Fatalf("child Save: %v", err)
	}

	parent.Set("parent-key-2", &model.TaskState{LastRun: 3})
	if err := parent.Save(); err != nil {
		t.Fatalf("parent second Save: %v", err)
	}

	reloaded := New(root)
	if reloaded.Get("child-key") == nil {
		t.Error("expected parent's save to preserve the child's concurrently-written entry")
	}
	if reloaded.Get("parent-key") == nil || reloaded.Get("parent-key-2") == nil {
		t.Error("expected parent's own entries to survive the merge")
	}
}

func TestClear_EmptiesInMemoryState(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	s.Set("k", &model.TaskState{LastRun: 1})
	s.Clear()
	if s.Get("k") != nil {
		t.Error("expected Clear to empty the in-memory state")
	}
}
