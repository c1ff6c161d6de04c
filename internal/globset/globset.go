// Package globset expands the `**`-capable glob patterns spec.md §3/§9 uses
// for task inputs and outputs. The teacher only ever calls stdlib
// filepath.Glob, which has no recursive-wildcard support; real build
// pipelines need patterns like "src/**/*.go", so this package is grounded
// on the doublestar library instead.
package globset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand resolves pattern against root (typically project_root/working_dir)
// and returns every matching file path, sorted for filesystem-order
// independence (spec.md §9: "matching is filesystem-order-independent for
// hashing and mtime comparison"). Paths are returned relative to root.
func Expand(root, pattern string) ([]string, error) {
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ExpandAbs behaves like Expand but returns absolute paths, joining each
// match back onto root.
func ExpandAbs(root, pattern string) ([]string, error) {
	matches, err := Expand(root, pattern)
	if err != nil {
		return nil, err
	}
	abs := make([]string, len(matches))
	for i, m := range matches {
		abs[i] = filepath.Join(root, m)
	}
	return abs, nil
}

// ExpandAll expands every pattern in patterns against root and returns the
// deduplicated, sorted union of absolute matches.
func ExpandAll(root string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var all []string
	for _, p := range patterns {
		matches, err := ExpandAbs(root, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				all = append(all, m)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}
