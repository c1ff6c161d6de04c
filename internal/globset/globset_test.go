package globset

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	paths := []string{
		"src/a.go",
		"src/nested/b.go",
		"src/nested/deep/c.go",
		"docs/readme.md",
	}
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestExpand_RecursiveWildcard(t *testing.T) {
	root := setupTree(t)
	matches, err := Expand(root, "src/**/*.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches under src/**/*.go, got %d: %v", len(matches), matches)
	}
}

func TestExpand_SortedRegardlessOfFilesystemOrder(t *testing.T) {
	root := setupTree(t)
	m1, err := Expand(root, "src/**/*.go")
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Expand(root, "src/**/*.go")
	if err != nil {
		t.Fatal(err)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			t.Fatalf("expected stable sorted output across calls, got %v vs %v", m1, m2)
		}
	}
}

func TestExpandAll_DedupesAcrossPatterns(t *testing.T) {
	root := setupTree(t)
	all, err := ExpandAll(root, []string{"src/**/*.go", "src/a.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 deduplicated matches, got %d: %v", len(all), all)
	}
}
